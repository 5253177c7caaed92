// Package idempotency deduplicates retried consume-budget calls by their
// x-gscp-transaction-id, an ambient concern the retry-capable HTTP client
// (spec.md §4.1) makes necessary: a client that retries after a timeout
// may have already landed its mutation. Adapted from the teacher's Redis
// cache package, swapping a float budget snapshot for a fixed-TTL marker.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tracker records which transaction IDs have already been claimed, so a
// retried request is rejected with ErrAlreadySeen instead of re-running
// ConsumeBudget against already-mutated rows. Only a claim marker is
// stored; the original request's outcome is not recorded or replayed.
type Tracker struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewTracker(client *redis.Client, logger *zap.Logger, ttl time.Duration) *Tracker {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Tracker{client: client, logger: logger, ttl: ttl}
}

// ErrAlreadySeen is returned by Claim when the transaction ID has already
// been recorded.
var ErrAlreadySeen = errors.New("idempotency: transaction id already claimed")

// Claim atomically records transactionID as in-flight, returning
// ErrAlreadySeen if another request already claimed it within the TTL
// window.
func (t *Tracker) Claim(ctx context.Context, transactionID string) error {
	ok, err := t.client.SetNX(ctx, t.key(transactionID), "claimed", t.ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency: failed to claim transaction id: %w", err)
	}
	if !ok {
		return ErrAlreadySeen
	}
	return nil
}

// Release removes a claim, letting a later retry (or the same caller,
// after a terminal error) attempt the transaction again.
func (t *Tracker) Release(ctx context.Context, transactionID string) error {
	if err := t.client.Del(ctx, t.key(transactionID)).Err(); err != nil {
		t.logger.Warn("failed to release idempotency claim", zap.String("transaction_id", transactionID), zap.Error(err))
		return err
	}
	return nil
}

func (t *Tracker) key(transactionID string) string {
	return fmt.Sprintf("pbs:idempotency:%s", transactionID)
}
