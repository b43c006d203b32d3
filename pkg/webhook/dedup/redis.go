package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinicore/automation/pkg/persistence"
)

// DefaultTTL keeps dedup keys long enough to cover gateway retry windows.
const DefaultTTL = 72 * time.Hour

// RedisStore backs deduplication with SET NX, useful when several ingest
// instances share one Redis and the relational ledger is not desired on the
// hot path.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{client: client, ttl: ttl}
}

func dedupKey(gateway, gatewayEventID string) string {
	return fmt.Sprintf("webhook:dedup:%s:%s", gateway, gatewayEventID)
}

func (s *RedisStore) MarkProcessed(ctx context.Context, gateway, gatewayEventID, outcome string) error {
	set, err := s.client.SetNX(ctx, dedupKey(gateway, gatewayEventID), outcome, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}

	if !set {
		return persistence.ErrDuplicateWebhookEvent
	}

	return nil
}

func (s *RedisStore) Unmark(ctx context.Context, gateway, gatewayEventID string) error {
	if err := s.client.Del(ctx, dedupKey(gateway, gatewayEventID)).Err(); err != nil {
		return fmt.Errorf("failed to unmark webhook: %w", err)
	}

	return nil
}
