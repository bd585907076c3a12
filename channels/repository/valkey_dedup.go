package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/infrastructure/valkey"
)

// ValkeyDedupStore implements webhook.DedupStore with SET NX EX, so
// duplicate deliveries are detected across every node behind the webhook.
type ValkeyDedupStore struct {
	client *valkey.Client
	ttl    time.Duration
}

func NewValkeyDedupStore(client *valkey.Client, ttl time.Duration) *ValkeyDedupStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ValkeyDedupStore{client: client, ttl: ttl}
}

func (s *ValkeyDedupStore) Seen(ctx context.Context, instanceID, eventID string) (bool, error) {
	created, err := s.client.SetNX(ctx, s.client.Key("webhook", "dedup", instanceID, eventID), s.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event in valkey: %w", err)
	}
	return !created, nil
}

func (s *ValkeyDedupStore) Release(ctx context.Context, instanceID, eventID string) error {
	if err := s.client.Del(ctx, s.client.Key("webhook", "dedup", instanceID, eventID)); err != nil {
		return fmt.Errorf("failed to release webhook event in valkey: %w", err)
	}
	return nil
}
