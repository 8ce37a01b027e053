package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-atelier/internal/config"
	"github.com/noah-isme/backend-atelier/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":          "postgres://localhost/atelier",
		"REDIS_URL":             "redis://localhost:6379/0",
		"PORT":                  "",
		"URGENCY_RATE_BPS":      "",
		"INVOICE_ALLOW_PARTIAL": "",
		"INVOICE_REOPEN_STATUS": "",
		"AUDIT_ENABLED":         "",
	})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 1000, cfg.UrgencyBps)
	require.False(t, cfg.InvoiceAllowPartial)
	require.Equal(t, domain.StatusInProgress, cfg.InvoiceReopenStatus)
	require.Equal(t, 3*time.Second, cfg.CounterTimeout)
	require.True(t, cfg.AuditEnabled)
	require.InDelta(t, 1.0, cfg.AuditSamplingRate, 0.001)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":            "postgres://localhost/atelier",
		"REDIS_URL":               "redis://localhost:6379/0",
		"PORT":                    "9191",
		"URGENCY_RATE_BPS":        "1500",
		"INVOICE_ALLOW_PARTIAL":   "true",
		"INVOICE_REOPEN_STATUS":   "completed",
		"INVOICE_COUNTER_TIMEOUT": "750ms",
		"INVOICE_COUNTER_RETRIES": "5",
		"AUDIT_SAMPLING_RATE":     "0.25",
	})
	require.NoError(t, err)
	require.Equal(t, ":9191", cfg.HTTPAddr())
	require.Equal(t, 1500, cfg.UrgencyBps)
	require.True(t, cfg.InvoiceAllowPartial)
	require.Equal(t, domain.StatusCompleted, cfg.InvoiceReopenStatus)
	require.Equal(t, 750*time.Millisecond, cfg.CounterTimeout)
	require.Equal(t, 5, cfg.CounterRetries)
	require.InDelta(t, 0.25, cfg.AuditSamplingRate, 0.001)
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL": "",
		"REDIS_URL":    "redis://localhost:6379/0",
	})
	require.Error(t, err)
}

func TestLoadRejectsUrgencyOutOfRange(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":     "postgres://localhost/atelier",
		"REDIS_URL":        "redis://localhost:6379/0",
		"URGENCY_RATE_BPS": "20000",
	})
	require.Error(t, err)
}

func TestReopenStatusNeverInvoiced(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":          "postgres://localhost/atelier",
		"REDIS_URL":             "redis://localhost:6379/0",
		"INVOICE_REOPEN_STATUS": "invoiced",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, cfg.InvoiceReopenStatus)
}
