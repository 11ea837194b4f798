package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
)

// DefaultOpTimeout bounds every network round trip made by the remote backends.
const DefaultOpTimeout = 5 * time.Second

// RedisOptions configures a Redis-backed DB.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Namespace is prepended to every key, e.g. "klingwallet:".
	Namespace string
	Timeout   time.Duration
}

// RedisDB implements DB on top of a Redis server. Keys live under a
// namespace so one server can host several keystores.
type RedisDB struct {
	client    *goredis.Client
	namespace string
	timeout   time.Duration
	owned     bool
}

// NewRedis connects to Redis and verifies connectivity.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisDB, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	log.Storage.Info().
		Str("addr", opts.Addr).
		Int("db", opts.DB).
		Msg("Redis connection established")

	db := NewRedisWithClient(client, opts.Namespace, opts.Timeout)
	db.owned = true
	return db, nil
}

// NewRedisWithClient wraps an existing client. The caller keeps ownership
// of the client; Close does not close it.
func NewRedisWithClient(client *goredis.Client, namespace string, timeout time.Duration) *RedisDB {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return &RedisDB{client: client, namespace: namespace, timeout: timeout}
}

func (r *RedisDB) key(k []byte) string {
	return r.namespace + string(k)
}

func (r *RedisDB) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// Get retrieves a value by key.
func (r *RedisDB) Get(key []byte) ([]byte, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Put stores a key-value pair.
func (r *RedisDB) Put(key, value []byte) error {
	ctx, cancel := r.ctx()
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a key.
func (r *RedisDB) Delete(key []byte) error {
	ctx, cancel := r.ctx()
	defer cancel()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (r *RedisDB) Has(key []byte) (bool, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// ForEach scans all keys with the given prefix, sorts them and then fetches
// each value. Keys removed between the scan and the fetch are skipped.
func (r *RedisDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	ctx, cancel := r.ctx()
	defer cancel()

	match := escapeGlob(r.key(prefix)) + "*"
	var keys []string
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(keys)

	for _, k := range keys {
		val, err := r.client.Get(ctx, k).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		if err := fn([]byte(strings.TrimPrefix(k, r.namespace)), val); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the client if this DB opened it.
func (r *RedisDB) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
