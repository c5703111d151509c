// Package lock provides the per-campaign lock that keeps two concurrent
// starts of the same campaign from both dispatching it.
package lock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a held or not-yet-acquired mutual exclusion.
type Lock interface {
	// Acquire tries once, without waiting. It returns false when another
	// owner holds the lock.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Locker creates locks by key.
type Locker interface {
	NewLock(key string) Lock
}

// NewLocker picks Redis when a client is given, else Postgres advisory locks.
func NewLocker(client *redis.Client, db *sql.DB, ttl time.Duration) Locker {
	if client != nil {
		return &RedisLocker{Client: client, TTL: ttl}
	}
	return &PGLocker{DB: db}
}

// =============================================================================
// Redis
// =============================================================================

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type RedisLocker struct {
	Client *redis.Client
	TTL    time.Duration
}

func (l *RedisLocker) NewLock(key string) Lock {
	b := make([]byte, 16)
	rand.Read(b)
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLock{client: l.Client, key: "lock:" + key, value: hex.EncodeToString(b), ttl: ttl}
}

// RedisLock is SET NX with a TTL and an owner token, so an expired lock
// taken over by someone else is never released by the old owner.
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// =============================================================================
// PostgreSQL advisory lock
// =============================================================================
// Advisory locks belong to a session, so the lock pins one pooled
// connection from Acquire until Release.

type PGLocker struct {
	DB *sql.DB
}

func (l *PGLocker) NewLock(key string) Lock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: l.DB, id: int64(h.Sum64())}
}

type PGAdvisoryLock struct {
	db   *sql.DB
	id   int64
	conn *sql.Conn
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&ok); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.id, err)
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id); err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.id, err)
	}
	return nil
}

// CampaignKey is the lock key guarding dispatch of one campaign.
func CampaignKey(campaignID int) string {
	return fmt.Sprintf("campaign:%d:start", campaignID)
}
