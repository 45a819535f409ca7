package distlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/store"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_SingleOwner(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	first := NewRedisLock(client, "campaign:42", time.Minute)
	second := NewRedisLock(client, "campaign:42", time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lock:campaign:42"))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Releasing a lock we never owned must not free it.
	require.NoError(t, second.Release(ctx))
	assert.True(t, mr.Exists(first.Key()))

	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists(first.Key()))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ExtendAfterExpiry(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	lock := NewRedisLock(client, "campaign:7", 10*time.Second)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(5 * time.Second)
	held, err := lock.Extend(ctx)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, 10*time.Second, mr.TTL(lock.Key()))

	mr.FastForward(11 * time.Second)
	held, err = lock.Extend(ctx)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRedisLock_AcquireError(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedisLock(client, "x", time.Second).Acquire(context.Background())
	assert.ErrorContains(t, err, "lock:x")
}

func TestCampaignLeaser_Redis(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	leaser := NewCampaignLeaser(client, nil, 0)

	lease, ok, err := leaser.Acquire(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("lock:campaign:abc"))

	_, ok, err = leaser.Acquire(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := lease.Extend(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("lock:campaign:abc"))
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "campaign:pg")

	mock.ExpectQuery("SELECT pg_try_advisory_lock\\(\\$1\\)").
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
		WithArgs(lock.lockID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())

	held, err := lock.Extend(ctx)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestPGAdvisoryLock_HeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	lease, ok, err := NewCampaignLeaser(nil, db, time.Minute).Acquire(context.Background(), "busy")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, lease)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLock_SameKeySameID(t *testing.T) {
	a := NewPGAdvisoryLock(nil, "campaign:1")
	b := NewPGAdvisoryLock(nil, "campaign:1")
	c := NewPGAdvisoryLock(nil, "campaign:2")
	assert.Equal(t, a.lockID, b.lockID)
	assert.NotEqual(t, a.lockID, c.lockID)

	client := redis.NewClient(&redis.Options{})
	defer client.Close()
	_, isRedis := NewLock(client, nil, "k", time.Second).(*RedisLock)
	assert.True(t, isRedis)
}

// countingChannel accepts every send and counts them.
type countingChannel struct {
	mu    sync.Mutex
	sends int
}

func (c *countingChannel) SendText(context.Context, string, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	return "msg", nil
}

func (c *countingChannel) SendMedia(ctx context.Context, to, caption string, _ campaign.Media) (string, error) {
	return c.SendText(ctx, to, caption)
}

func (c *countingChannel) IsReady() bool { return true }

func (c *countingChannel) GetContacts(context.Context) ([]campaign.Contact, error) { return nil, nil }

func (c *countingChannel) GetGroupParticipants(context.Context, string) ([]campaign.Contact, error) {
	return nil, nil
}

func (c *countingChannel) Sends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

func TestCampaignLeaser_HeldForWholeRun(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	const ttl = 300 * time.Millisecond
	mem := store.NewMemoryCampaignStore()
	ch := &countingChannel{}
	runner := campaign.NewRunner(mem, ch, nil,
		campaign.WithInterval(func(int, int) time.Duration { return time.Hour }),
		campaign.WithLeaser(NewCampaignLeaser(client, nil, ttl)),
		campaign.WithLeaseRenewal(10*time.Millisecond))

	now := time.Now()
	c := &campaign.Campaign{
		ID:           "long-run",
		Name:         "long run",
		Message:      "hi",
		TargetType:   campaign.TargetLocalContacts,
		ScheduleType: campaign.ScheduleImmediate,
		MinInterval:  1,
		MaxInterval:  1,
		Status:       campaign.StatusRunning,
		TotalTargets: 2,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, mem.Create(ctx, c))
	targets := []campaign.Target{{ID: "628100000001"}, {ID: "628100000002"}}
	require.NoError(t, runner.Start(c, targets, now))
	require.Eventually(t, func() bool { return ch.Sends() == 1 }, 5*time.Second, time.Millisecond)

	key := "lock:campaign:" + c.ID
	// Each jump alone would leave the lock near expiry; renewal resets it.
	for i := 0; i < 5; i++ {
		mr.FastForward(ttl - 100*time.Millisecond)
		require.Eventually(t, func() bool { return mr.TTL(key) > ttl-50*time.Millisecond }, 5*time.Second, time.Millisecond)
	}

	_, ok, err := NewCampaignLeaser(client, nil, ttl).Acquire(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a second instance must not take a live campaign")
	assert.True(t, runner.IsActive(c.ID))

	shutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(shutdown))
	assert.False(t, mr.Exists(key))
	assert.Equal(t, 1, ch.Sends())
}
