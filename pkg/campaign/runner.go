package campaign

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

// DefaultLeaseRenewal suits the default two minute lease TTL.
const DefaultLeaseRenewal = 30 * time.Second

// Runner owns the send loops. At most one loop per campaign id is alive in
// a process; with a Leaser configured the claim also holds across processes.
type Runner struct {
	store    CampaignStore
	channel  MessageChannel
	sink     ProgressSink
	interval IntervalPolicy
	now      func() time.Time
	leaser   Leaser
	renewal  time.Duration

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type RunnerOption func(*Runner)

func WithInterval(policy IntervalPolicy) RunnerOption {
	return func(r *Runner) {
		if policy != nil {
			r.interval = policy
		}
	}
}

func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLeaser(leaser Leaser) RunnerOption {
	return func(r *Runner) {
		r.leaser = leaser
	}
}

// WithLeaseRenewal sets how often a held lease is extended. It must be well
// below the lease TTL.
func WithLeaseRenewal(every time.Duration) RunnerOption {
	return func(r *Runner) {
		if every > 0 {
			r.renewal = every
		}
	}
}

func NewRunner(store CampaignStore, channel MessageChannel, sink ProgressSink, opts ...RunnerOption) *Runner {
	if sink == nil {
		sink = discardSink{}
	}
	r := &Runner{
		store:    store,
		channel:  channel,
		sink:     sink,
		interval: NextDelay,
		now:      time.Now,
		renewal:  DefaultLeaseRenewal,
		tasks:    make(map[string]*task),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the loop for c. Sending begins at startAt and continues
// from target index c.SentCount+c.FailedCount.
func (r *Runner) Start(c *Campaign, targets []Target, startAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[c.ID]; ok {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[c.ID] = t

	snapshot := *c
	r.wg.Add(1)
	go r.run(ctx, t, snapshot, targets, startAt)
	return nil
}

// Stop cancels the loop of a campaign. A send already in flight completes
// and its result is persisted. It reports whether a loop was found.
func (r *Runner) Stop(id string) bool {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Wait blocks until the loop of a campaign has exited.
func (r *Runner) Wait(ctx context.Context, id string) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok
}

func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every loop and waits for them to exit.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, t := range r.tasks {
		t.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, t *task, c Campaign, targets []Target, startAt time.Time) {
	defer r.wg.Done()
	defer close(t.done)
	defer func() {
		r.mu.Lock()
		if r.tasks[c.ID] == t {
			delete(r.tasks, c.ID)
		}
		r.mu.Unlock()
		t.cancel()
	}()

	logger := log.Campaign(c.ID)

	// Store writes must land even after a pause cancelled ctx.
	bg := context.WithoutCancel(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			r.fail(bg, logger, c.ID, fmt.Errorf("panic in send loop: %v", rec))
		}
	}()

	if r.leaser != nil {
		lease, ok, err := r.leaser.Acquire(bg, c.ID)
		if err != nil {
			r.fail(bg, logger, c.ID, fmt.Errorf("acquire lease: %w", err))
			return
		}
		if !ok {
			logger.Warn("Campaign is already running on another instance")
			return
		}

		// The loop stops when the lease is lost, whatever it is waiting on.
		leased, lost := context.WithCancel(ctx)
		renewed := make(chan struct{})
		go func() {
			defer close(renewed)
			r.renewLease(leased, bg, logger, lease, lost)
		}()
		defer func() {
			lost()
			<-renewed
			if err := lease.Release(bg); err != nil {
				logger.WithError(err).Warn("Failed to release campaign lease")
			}
		}()
		r.loop(leased, bg, logger, c, targets, startAt)
		return
	}

	r.loop(ctx, bg, logger, c, targets, startAt)
}

func (r *Runner) renewLease(ctx, bg context.Context, logger *logrus.Entry, lease Lease, lost context.CancelFunc) {
	ticker := time.NewTicker(r.renewal)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := lease.Extend(bg)
			if err != nil {
				logger.WithError(err).Warn("Failed to extend campaign lease")
				continue
			}
			if !held {
				logger.Warn("Campaign lease lost, stopping send loop")
				lost()
				return
			}
		}
	}
}

func (r *Runner) loop(ctx, bg context.Context, logger *logrus.Entry, c Campaign, targets []Target, startAt time.Time) {
	if !r.sleep(ctx, startAt.Sub(r.now())) {
		return
	}

	if c.Status == StatusScheduled {
		updated, err := r.store.Update(bg, c.ID, Patch{
			Status:      statusPtr(StatusRunning),
			WhereStatus: []Status{StatusScheduled},
		})
		if err != nil {
			r.fail(bg, logger, c.ID, fmt.Errorf("mark running: %w", err))
			return
		}
		if updated == nil {
			return
		}
		c = *updated
		r.sink.Publish(NewProgressEvent(updated))
	}

	if c.TotalTargets < len(targets) {
		targets = targets[:c.TotalTargets]
	}

	sent, failed := c.SentCount, c.FailedCount
	logger.WithFields(logrus.Fields{
		"targets": len(targets),
		"offset":  sent + failed,
	}).Info("Campaign send loop started")

	for i := sent + failed; i < len(targets); i++ {
		if !r.waitForWindow(ctx, c.ScheduleHours) {
			return
		}

		current, err := r.store.Get(bg, c.ID)
		if err != nil {
			r.fail(bg, logger, c.ID, fmt.Errorf("reload campaign: %w", err))
			return
		}
		if current == nil || current.Status != StatusRunning || ctx.Err() != nil {
			return
		}

		target := targets[i]
		if err := r.send(bg, &c, target); err != nil {
			failed++
			logger.WithError(err).WithField("recipient", log.Mask(target.ID)).Warn("Campaign send failed")
		} else {
			sent++
		}

		updated, err := r.store.Update(bg, c.ID, Patch{
			SentCount:   intPtr(sent),
			FailedCount: intPtr(failed),
			WhereStatus: []Status{StatusRunning, StatusPaused},
		})
		if err != nil {
			r.fail(bg, logger, c.ID, fmt.Errorf("persist counters: %w", err))
			return
		}
		if updated == nil {
			return
		}
		r.sink.Publish(NewProgressEvent(updated))

		if i < len(targets)-1 {
			if !r.sleep(ctx, r.interval(c.MinInterval, c.MaxInterval)) {
				return
			}
		}
	}

	updated, err := r.store.Update(bg, c.ID, Patch{
		Status:      statusPtr(StatusCompleted),
		WhereStatus: []Status{StatusRunning},
	})
	if err != nil {
		r.fail(bg, logger, c.ID, fmt.Errorf("mark completed: %w", err))
		return
	}
	if updated == nil {
		return
	}
	r.sink.Publish(NewProgressEvent(updated))
	logger.WithFields(logrus.Fields{
		"sent":   updated.SentCount,
		"failed": updated.FailedCount,
	}).Info("Campaign completed")
}

func (r *Runner) send(ctx context.Context, c *Campaign, target Target) error {
	var err error
	if c.HasMedia() {
		_, err = r.channel.SendMedia(ctx, target.ID, c.Message, Media{URL: c.MediaURL, Type: c.MediaType})
	} else {
		_, err = r.channel.SendText(ctx, target.ID, c.Message)
	}
	return err
}

// waitForWindow sleeps until the clock enters one of the hours.
func (r *Runner) waitForWindow(ctx context.Context, hours []int) bool {
	for {
		now := r.now()
		if InWindow(now, hours) {
			return ctx.Err() == nil
		}
		if !r.sleep(ctx, NextEligible(now, hours).Sub(now)) {
			return false
		}
	}
}

// sleep reports false when ctx was cancelled first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) fail(ctx context.Context, logger *logrus.Entry, id string, cause error) {
	logger.WithError(cause).Error("Campaign run aborted")

	updated, err := r.store.Update(ctx, id, Patch{Status: statusPtr(StatusFailed)})
	if err != nil {
		logger.WithError(err).Error("Failed to mark campaign as failed")
		return
	}
	if updated != nil {
		r.sink.Publish(NewProgressEvent(updated))
	}
}
