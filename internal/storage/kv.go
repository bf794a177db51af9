package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
	"github.com/sandwichfarm/laostr/internal/config"
)

// Well-known keys for persisted client state
const (
	KeyUser             = "nostrUser"
	KeyCurrentUserInfo  = "currentUserInfo"
	KeyUserList         = "userList"
	KeyUserInteractions = "userInteractions"
	KeyUserInterests    = "userInterests"
	KeyBookmarks        = "itemsBookmark"
)

// KV is the key-value store holding accounts, affinities and bookmarks
type KV interface {
	// Get returns the value and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// NewKV builds the KV backend selected by cfg. The sqlite engine shares the
// event cache database, so st must use the sqlite driver.
func NewKV(ctx context.Context, cfg *config.State, st *Storage) (KV, error) {
	switch cfg.Engine {
	case "memory":
		return NewMemoryKV(), nil
	case "sqlite":
		if st == nil || st.DB() == nil {
			return nil, fmt.Errorf("sqlite state requires a sqlite storage backend")
		}
		return NewSQLKV(st.DB()), nil
	case "redis":
		return NewRedisKV(ctx, cfg.RedisURL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported state engine: %s", cfg.Engine)
	}
}

// GetJSON decodes the JSON value under key into v. It reports false when
// the key is absent and leaves v untouched.
func GetJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := sonic.UnmarshalString(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as JSON under key
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := sonic.MarshalString(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return kv.Set(ctx, key, raw)
}

// MemoryKV keeps state in process memory
type MemoryKV struct {
	data *xsync.MapOf[string, string]
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: xsync.NewMapOf[string, string]()}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.data.Load(key)
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.data.Store(key, value)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

// SQLKV stores state in the kv table of the sqlite database
type SQLKV struct {
	db *sqlx.DB
}

// NewSQLKV wraps an open database that has the kv table
func NewSQLKV(db *sqlx.DB) *SQLKV {
	return &SQLKV{db: db}
}

func (s *SQLKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLKV) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// RedisKV stores state in redis under a key prefix
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV connects to redis and verifies the connection
func NewRedisKV(ctx context.Context, url, prefix string) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisKV{client: client, prefix: prefix}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close releases the redis connection pool
func (r *RedisKV) Close() error {
	return r.client.Close()
}
