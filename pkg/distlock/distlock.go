package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

// DistLock is a single-owner lock. One instance belongs to one goroutine.
type DistLock interface {
	Acquire(ctx context.Context) (bool, error)
	// Extend refreshes ownership and reports whether the lock is still held.
	Extend(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// NewLock prefers Redis and falls back to PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// PGAdvisoryLock pins one pooled connection for the lifetime of the lock,
// since advisory locks belong to the session that took them.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Extend checks the pinned session is alive. The lock has no TTL.
func (l *PGAdvisoryLock) Extend(ctx context.Context) (bool, error) {
	if l.conn == nil {
		return false, nil
	}
	if err := l.conn.PingContext(ctx); err != nil {
		return false, err
	}
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
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// CampaignLeaser hands out one lock per campaign loop so only one process
// sends for a campaign at a time.
type CampaignLeaser struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
}

func NewCampaignLeaser(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *CampaignLeaser {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &CampaignLeaser{redis: redisClient, db: db, ttl: ttl}
}

func (c *CampaignLeaser) Acquire(ctx context.Context, campaignID string) (campaign.Lease, bool, error) {
	lock := NewLock(c.redis, c.db, "campaign:"+campaignID, c.ttl)
	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return lock, true, nil
}
