// Package draft provides session-scoped persistence for in-progress
// weekly review drafts and the once-per-session review prompt flag.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"waypoint/api/internal/review"
)

// Store is the persistence contract the wizard saves through. A draft is
// a convenience, not a correctness requirement: callers log failures and
// keep going.
type Store interface {
	SaveDraft(ctx context.Context, key string, d *review.Draft) error
	// LoadDraft returns (nil, nil) when no draft exists for the key.
	LoadDraft(ctx context.Context, key string) (*review.Draft, error)
	ClearDraft(ctx context.Context, key string) error
	// MarkPromptShown flips the prompt flag and reports whether this call
	// was the first to do so within the session.
	MarkPromptShown(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Key builds the storage key for one browser tab's wizard: each tab owns
// its own draft.
func Key(userID, clientSessionID string) string {
	return userID + ":" + clientSessionID
}

// RedisStore keeps drafts in Redis with a TTL matching the session scope.
type RedisStore struct {
	client      *redis.Client
	draftPrefix string
	flagPrefix  string
	ttl         time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client:      client,
		draftPrefix: "review-draft:",
		flagPrefix:  "review-prompt:",
		ttl:         ttl,
	}
}

func (s *RedisStore) SaveDraft(ctx context.Context, key string, d *review.Draft) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, s.draftPrefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadDraft(ctx context.Context, key string) (*review.Draft, error) {
	payload, err := s.client.Get(ctx, s.draftPrefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	var d review.Draft
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, fmt.Errorf("unmarshal draft: %w", err)
	}
	return &d, nil
}

func (s *RedisStore) ClearDraft(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.draftPrefix+key).Err(); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkPromptShown(ctx context.Context, key string) (bool, error) {
	first, err := s.client.SetNX(ctx, s.flagPrefix+key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark prompt shown: %w", err)
	}
	return first, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
