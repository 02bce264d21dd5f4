package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "flowbot"
	scanBatchCount   = 100
	// keyGrace keeps expired entries around until the sweeper reaches them.
	keyGrace = time.Hour
)

// RedisStore persists states as JSON documents under one key per user.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
	log    *slog.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces keys, typically per bot.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore initializes a Redis-backed Store.
func NewRedisStore(client *redis.Client, log *slog.Logger, opts ...RedisOption) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	s := &RedisStore{
		client: client,
		prefix: defaultKeyPrefix,
		now:    time.Now,
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (*State, error) {
	st, err := s.load(ctx, s.key(userID))
	if err != nil {
		return nil, err
	}
	if st.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return st, nil
}

func (s *RedisStore) Set(ctx context.Context, userID int64, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		s.log.Error("failed to encode session state", "user_id", userID, "error", err)
		return err
	}

	ttl := keyGrace
	if !state.ExpiresAt.IsZero() {
		ttl += state.ExpiresAt.Sub(s.now())
	}
	if ttl <= 0 {
		ttl = keyGrace
	}

	if err := s.client.Set(ctx, s.key(userID), data, ttl).Err(); err != nil {
		s.log.Error("failed to save session state", "user_id", userID, "error", err)
		return err
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		s.log.Error("failed to clear session state", "user_id", userID, "error", err)
		return err
	}
	return nil
}

// Sweep scans the namespace and deletes states expired at now.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":session:*", scanBatchCount).Result()
		if err != nil {
			return removed, fmt.Errorf("scan sessions: %w", err)
		}

		for _, key := range keys {
			st, err := s.load(ctx, key)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					s.log.Warn("session sweep skipped key", slog.String("key", key), slog.Any("error", err))
				}
				continue
			}
			if !st.Expired(now) {
				continue
			}
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("delete session %s: %w", key, err)
			}
			removed++
		}

		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func (s *RedisStore) load(ctx context.Context, key string) (*State, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		s.log.Error("failed to get session state", "key", key, "error", err)
		return nil, err
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Error("failed to decode session state", "key", key, "error", err)
		return nil, err
	}
	return &st, nil
}

func (s *RedisStore) key(userID int64) string {
	return s.prefix + ":session:" + strconv.FormatInt(userID, 10)
}
