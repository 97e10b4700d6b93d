package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"airamed/pkg/types"
)

// maxAuditEntries bounds the Redis audit list
const maxAuditEntries = 200

// RedisConfig holds the connection settings of the Redis store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore persists the client session as three keys under a prefix
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection with a ping
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "airamed:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(name string) string {
	return r.prefix + name
}

// SaveSession writes all three keys inside MULTI/EXEC
func (r *RedisStore) SaveSession(ctx context.Context, session types.Session) error {
	values := map[string]string{
		"token":       session.Token,
		"role":        string(session.Role),
		"facility_id": session.FacilityID,
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for name, value := range values {
			if value == "" {
				pipe.Del(ctx, r.key(name))
				continue
			}
			pipe.Set(ctx, r.key(name), value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession reads the three keys in one round trip
func (r *RedisStore) LoadSession(ctx context.Context) (types.Session, error) {
	vals, err := r.client.MGet(ctx, r.key("token"), r.key("role"), r.key("facility_id")).Result()
	if err != nil {
		return types.Session{}, fmt.Errorf("failed to load session: %w", err)
	}

	str := func(v interface{}) string {
		s, _ := v.(string)
		return s
	}

	return types.Session{
		Token:      str(vals[0]),
		Role:       types.Role(str(vals[1])),
		FacilityID: str(vals[2]),
	}, nil
}

// ClearSession deletes all three keys in one command
func (r *RedisStore) ClearSession(ctx context.Context) error {
	err := r.client.Del(ctx, r.key("token"), r.key("role"), r.key("facility_id")).Err()
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// RecordEvent pushes an entry onto the capped audit list
func (r *RedisStore) RecordEvent(ctx context.Context, entry types.SessionAuditEntry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key("events"), data)
		pipe.LTrim(ctx, r.key("events"), 0, maxAuditEntries-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record session event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit audit entries, newest first
func (r *RedisStore) RecentEvents(ctx context.Context, limit int) ([]types.SessionAuditEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	raw, err := r.client.LRange(ctx, r.key("events"), 0, int64(limit-1)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}

	entries := make([]types.SessionAuditEntry, 0, len(raw))
	for _, item := range raw {
		var entry types.SessionAuditEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session event: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// HealthCheck pings the server
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Close closes the client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
