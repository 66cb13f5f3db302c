package port

import "context"

type IdempotencyStore interface {
	// Reserve claims key for a new request, returns false if already claimed
	Reserve(ctx context.Context, key string) (bool, error)

	// Complete records the order created under key
	Complete(ctx context.Context, key string, orderID int64) error

	// Release drops the claim so the request can be retried
	Release(ctx context.Context, key string) error

	// Lookup returns the order recorded under key, zero while still in flight
	Lookup(ctx context.Context, key string) (int64, bool, error)
}
