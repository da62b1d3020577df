package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/models"
)

const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"

	// InProgressExpiry must outlive one transaction including reconciliation.
	InProgressExpiry = 3 * time.Minute
	CompletedExpiry  = 24 * time.Hour
)

type completedEntry struct {
	Status string                `json:"status"`
	Result *models.PaymentResult `json:"result,omitempty"`
}

// RedisIdempotencyStore refuses a second payment for an order reference that
// is in progress or already paid. Failed attempts release the key.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func orderKey(orderRef string) string {
	return fmt.Sprintf("terminal:order:%s", orderRef)
}

// Acquire returns true when the caller now owns the order reference.
func (s *RedisIdempotencyStore) Acquire(ctx context.Context, orderRef string) (bool, error) {
	key := orderKey(orderRef)

	// Any existing value means in progress or completed.
	err := s.client.Get(ctx, key).Err()
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, redis.Nil):
		return false, fmt.Errorf("redis GET error: %w", err)
	}

	set, err := s.client.SetNX(ctx, key, StatusInProgress, InProgressExpiry).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX error: %w", err)
	}
	return set, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, orderRef string, res *models.PaymentResult) error {
	key := orderKey(orderRef)
	if res == nil || !res.Success {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis DEL error: %w", err)
		}
		return nil
	}

	payload, err := json.Marshal(completedEntry{Status: StatusCompleted, Result: res})
	if err != nil {
		return fmt.Errorf("encode completed entry: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, CompletedExpiry).Err(); err != nil {
		return fmt.Errorf("redis SET error: %w", err)
	}
	return nil
}

// Completed returns the stored result for a paid order reference, or nil.
func (s *RedisIdempotencyStore) Completed(ctx context.Context, orderRef string) (*models.PaymentResult, error) {
	raw, err := s.client.Get(ctx, orderKey(orderRef)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET error: %w", err)
	}
	if string(raw) == StatusInProgress {
		return nil, nil
	}
	var entry completedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode completed entry: %w", err)
	}
	return entry.Result, nil
}
