// Package distlock guards relay maintenance jobs (retention cleanup,
// reconciliation sweeps) so only one instance runs them at a time.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock picks the best available backend for the deployment: Redis when a
// client is configured (works across hosts that share nothing but Redis),
// otherwise a Postgres advisory lock on the relay database.
func NewLock(redisClient *redis.Client, db *sql.DB, name string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, name, ttl)
	}
	return NewPGAdvisoryLock(db, name)
}

// PGAdvisoryLock implements DistLock on pg_try_advisory_lock. Advisory
// locks are session-scoped, so a crashed sweeper drops its lock as soon as
// its connection dies. No TTL is needed.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock derives a stable 64-bit advisory lock id from the job
// name so every relay instance contends on the same lock.
func NewPGAdvisoryLock(db *sql.DB, name string) *PGAdvisoryLock {
	return &PGAdvisoryLock{db: db, lockID: advisoryID(name)}
}

func advisoryID(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("relay:" + name))
	return int64(h.Sum64())
}

// Acquire tries to take the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
