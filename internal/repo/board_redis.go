package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Board mirrors open orders onto the workshop scheduling view kept in Redis.
// The view is a cache of open work, so entries are added best-effort when an
// order is created and removed exactly once when it is invoiced.
type Board struct {
	R   *redis.Client
	Key string
}

func (b Board) key() string {
	if b.Key == "" {
		return "board:open_orders"
	}
	return b.Key
}

// Add places an order on the board.
func (b Board) Add(ctx context.Context, orderID uuid.UUID) error {
	return b.R.SAdd(ctx, b.key(), orderID.String()).Err()
}

// Remove clears an invoiced order from the board.
func (b Board) Remove(ctx context.Context, orderID uuid.UUID) error {
	return b.R.SRem(ctx, b.key(), orderID.String()).Err()
}
