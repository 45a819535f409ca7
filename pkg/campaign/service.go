package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rivo/uniseg"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

const (
	MaxNameLength    = 255
	MaxMessageLength = 1000
	MinIntervalBound = 1
	MaxIntervalBound = 3600
)

type CreateRequest struct {
	Name            string       `json:"name" form:"name"`
	Message         string       `json:"message" form:"message"`
	TargetType      TargetType   `json:"targetType" form:"targetType"`
	ContactGroupID  string       `json:"contactGroupId" form:"contactGroupId"`
	WhatsAppGroupID string       `json:"whatsappGroupId" form:"whatsappGroupId"`
	MediaURL        string       `json:"mediaUrl" form:"mediaUrl"`
	MediaType       MediaType    `json:"mediaType" form:"mediaType"`
	ScheduleType    ScheduleType `json:"scheduleType" form:"scheduleType"`
	TimePost        *time.Time   `json:"timePost" form:"timePost"`
	ScheduleHours   []int        `json:"scheduleHours" form:"scheduleHours"`
	MinInterval     int          `json:"minInterval" form:"minInterval"`
	MaxInterval     int          `json:"maxInterval" form:"maxInterval"`
}

func (r CreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, MaxNameLength)),
		validation.Field(&r.Message, validation.Required, maxGraphemes(MaxMessageLength)),
		validation.Field(&r.TargetType, validation.Required,
			validation.In(TargetContactGroup, TargetLocalContacts, TargetWhatsAppGroup)),
		validation.Field(&r.ContactGroupID, validation.When(r.TargetType == TargetContactGroup, validation.Required)),
		validation.Field(&r.WhatsAppGroupID, validation.When(r.TargetType == TargetWhatsAppGroup, validation.Required)),
		validation.Field(&r.MediaType, validation.When(r.MediaURL != "", validation.Required,
			validation.In(MediaImage, MediaVideo, MediaDocument, MediaAudio))),
		validation.Field(&r.ScheduleType, validation.Required,
			validation.In(ScheduleImmediate, ScheduleScheduled, ScheduleDaytime,
				ScheduleNighttime, ScheduleOddHours, ScheduleEvenHours)),
		validation.Field(&r.TimePost, validation.When(r.ScheduleType == ScheduleScheduled, validation.Required)),
		validation.Field(&r.ScheduleHours, validation.Each(validation.Min(0), validation.Max(23))),
		validation.Field(&r.MinInterval, validation.Required,
			validation.Min(MinIntervalBound), validation.Max(MaxIntervalBound)),
		validation.Field(&r.MaxInterval, validation.Required,
			validation.Min(MinIntervalBound), validation.Max(MaxIntervalBound),
			validation.Min(r.MinInterval).Error("must not be less than minInterval")),
	)
}

func (r *CreateRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.ContactGroupID = strings.TrimSpace(r.ContactGroupID)
	r.WhatsAppGroupID = strings.TrimSpace(r.WhatsAppGroupID)
	r.MediaURL = strings.TrimSpace(r.MediaURL)
}

func maxGraphemes(n int) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if uniseg.GraphemeClusterCount(s) > n {
			return fmt.Errorf("must be at most %d characters", n)
		}
		return nil
	})
}

type ExecuteResult struct {
	Campaign          *Campaign `json:"campaign"`
	TotalTargets      int       `json:"totalTargets"`
	StartsAt          time.Time `json:"startsAt"`
	EstimatedSeconds  int64     `json:"estimatedSeconds"`
	EstimatedDuration string    `json:"estimatedDuration"`
}

// Service is the control surface over campaigns. Operations on the same
// campaign are serialized; different campaigns never wait on each other.
type Service struct {
	locks    keyedMutex
	store    CampaignStore
	resolver *TargetResolver
	runner   *Runner
}

func NewService(store CampaignStore, resolver *TargetResolver, runner *Runner) *Service {
	return &Service{store: store, resolver: resolver, runner: runner}
}

func (s *Service) Runner() *Runner {
	return s.runner
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Campaign, error) {
	req.normalize()
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}

	hours := NormalizeHours(req.ScheduleHours)
	if canned := HoursFor(req.ScheduleType); canned != nil {
		hours = canned
	}
	timePost := req.TimePost
	if req.ScheduleType != ScheduleScheduled {
		timePost = nil
	}

	now := s.runner.now()
	c := &Campaign{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Message:         req.Message,
		TargetType:      req.TargetType,
		ContactGroupID:  req.ContactGroupID,
		WhatsAppGroupID: req.WhatsAppGroupID,
		MediaURL:        req.MediaURL,
		MediaType:       req.MediaType,
		ScheduleType:    req.ScheduleType,
		TimePost:        timePost,
		ScheduleHours:   hours,
		MinInterval:     req.MinInterval,
		MaxInterval:     req.MaxInterval,
		Status:          StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !c.HasMedia() {
		c.MediaType = ""
	}

	total, err := s.resolver.Count(ctx, c)
	if err != nil {
		return nil, err
	}
	c.TotalTargets = total

	if err := s.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	log.Campaign(c.ID).WithField("targets", total).Info("Campaign created")
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Campaign, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if c == nil {
		return nil, &NotFoundError{Resource: "campaign", ID: id}
	}
	return c, nil
}

func (s *Service) List(ctx context.Context) ([]*Campaign, error) {
	list, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return list, nil
}

// Execute resolves the audience and hands the campaign to the runner. Only
// draft campaigns can be executed.
func (s *Service) Execute(ctx context.Context, id string) (*ExecuteResult, error) {
	defer s.locks.Lock(id)()

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusDraft {
		return nil, &StateError{ID: id, Op: "execute", Status: c.Status}
	}

	// A restarted campaign may still have a send in flight.
	if err := s.runner.Wait(ctx, id); err != nil {
		return nil, err
	}

	targets, err := s.resolver.Resolve(ctx, c)
	if err != nil {
		if IsNotFound(err) {
			s.markFailed(ctx, id)
		}
		return nil, err
	}

	now := s.runner.now()
	startAt := ResolveStartTime(now, c.ScheduleType, c.TimePost, c.ScheduleHours)
	status := StatusRunning
	if startAt.After(now) {
		status = StatusScheduled
	}

	updated, err := s.store.Update(ctx, id, Patch{
		Status:       statusPtr(status),
		SentCount:    intPtr(0),
		FailedCount:  intPtr(0),
		TotalTargets: intPtr(len(targets)),
		LastExecuted: &now,
		WhereStatus:  []Status{StatusDraft},
	})
	if err != nil {
		return nil, fmt.Errorf("mark campaign %s: %w", status, err)
	}
	if updated == nil {
		return nil, &NotFoundError{Resource: "campaign", ID: id}
	}

	if err := s.runner.Start(updated, targets, startAt); err != nil {
		return nil, &StateError{ID: id, Op: "execute", Status: updated.Status, Err: err}
	}
	s.runner.sink.Publish(NewProgressEvent(updated))

	estimate := EstimateDuration(len(targets), c.MinInterval, c.MaxInterval)
	log.Campaign(id).WithField("targets", len(targets)).WithField("starts_at", startAt.Format(time.RFC3339)).Info("Campaign executed")

	return &ExecuteResult{
		Campaign:          updated,
		TotalTargets:      len(targets),
		StartsAt:          startAt,
		EstimatedSeconds:  int64(estimate / time.Second),
		EstimatedDuration: FormatEstimate(estimate),
	}, nil
}

// Pause stops a running or scheduled campaign. Other statuses are a no-op.
func (s *Service) Pause(ctx context.Context, id string) (*Campaign, error) {
	defer s.locks.Lock(id)()

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusRunning && c.Status != StatusScheduled {
		return c, nil
	}

	updated, err := s.store.Update(ctx, id, Patch{
		Status:      statusPtr(StatusPaused),
		WhereStatus: []Status{StatusRunning, StatusScheduled},
	})
	s.runner.Stop(id)
	if err != nil {
		return nil, fmt.Errorf("pause campaign: %w", err)
	}
	if updated == nil {
		return s.Get(ctx, id)
	}

	s.runner.sink.Publish(NewProgressEvent(updated))
	log.Campaign(id).Info("Campaign paused")
	return updated, nil
}

// Resume continues a paused campaign from its first unattempted target.
// Other statuses are a no-op.
func (s *Service) Resume(ctx context.Context, id string) (*Campaign, error) {
	defer s.locks.Lock(id)()

	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPaused {
		return c, nil
	}

	// Counters must include the send that was in flight when paused.
	if err := s.runner.Wait(ctx, id); err != nil {
		return nil, err
	}
	if c, err = s.Get(ctx, id); err != nil {
		return nil, err
	}

	targets, err := s.resolver.Resolve(ctx, c)
	if err != nil {
		if IsNotFound(err) {
			s.markFailed(ctx, id)
		}
		return nil, err
	}

	now := s.runner.now()
	startAt := now
	status := StatusRunning
	if c.Processed() == 0 && c.ScheduleType == ScheduleScheduled && c.TimePost != nil && c.TimePost.After(now) {
		startAt = *c.TimePost
		status = StatusScheduled
	}

	updated, err := s.store.Update(ctx, id, Patch{
		Status:      statusPtr(status),
		WhereStatus: []Status{StatusPaused},
	})
	if err != nil {
		return nil, fmt.Errorf("resume campaign: %w", err)
	}
	if updated == nil {
		return s.Get(ctx, id)
	}

	if err := s.runner.Start(updated, targets, startAt); err != nil {
		return nil, &StateError{ID: id, Op: "resume", Status: updated.Status, Err: err}
	}
	s.runner.sink.Publish(NewProgressEvent(updated))
	log.Campaign(id).WithField("offset", updated.Processed()).Info("Campaign resumed")
	return updated, nil
}

// Restart stops any live loop and resets the campaign to draft with zeroed
// counters. Targets are sent again on the next execute.
func (s *Service) Restart(ctx context.Context, id string) (*Campaign, error) {
	defer s.locks.Lock(id)()

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	s.runner.Stop(id)

	updated, err := s.store.Update(ctx, id, Patch{
		Status:            statusPtr(StatusDraft),
		SentCount:         intPtr(0),
		FailedCount:       intPtr(0),
		ClearLastExecuted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("restart campaign: %w", err)
	}
	if updated == nil {
		return nil, &NotFoundError{Resource: "campaign", ID: id}
	}

	s.runner.sink.Publish(NewProgressEvent(updated))
	log.Campaign(id).Info("Campaign restarted")
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	defer s.locks.Lock(id)()

	s.runner.Stop(id)
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if !ok {
		return &NotFoundError{Resource: "campaign", ID: id}
	}
	log.Campaign(id).Info("Campaign deleted")
	return nil
}

// Recover restarts loops for campaigns persisted as running or scheduled
// that have no live loop, typically after a process restart.
func (s *Service) Recover(ctx context.Context) (int, error) {
	list, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, c := range list {
		if c.Status != StatusRunning && c.Status != StatusScheduled {
			continue
		}
		if s.recoverOne(ctx, c.ID) {
			recovered++
		}
	}
	return recovered, nil
}

func (s *Service) recoverOne(ctx context.Context, id string) bool {
	defer s.locks.Lock(id)()

	if s.runner.IsActive(id) {
		return false
	}
	// The listing may be stale by the time the lock is held.
	c, err := s.store.Get(ctx, id)
	if err != nil || c == nil || (c.Status != StatusRunning && c.Status != StatusScheduled) {
		return false
	}

	logger := log.Campaign(id)
	targets, err := s.resolver.Resolve(ctx, c)
	if err != nil {
		if IsNotFound(err) {
			s.markFailed(ctx, id)
		}
		logger.WithError(err).Warn("Failed to recover campaign")
		return false
	}

	now := s.runner.now()
	startAt := now
	if c.Status == StatusScheduled {
		startAt = ResolveStartTime(now, c.ScheduleType, c.TimePost, c.ScheduleHours)
	}

	if err := s.runner.Start(c, targets, startAt); err != nil {
		if !errors.Is(err, ErrAlreadyRunning) {
			logger.WithError(err).Warn("Failed to recover campaign")
		}
		return false
	}
	logger.WithField("offset", c.Processed()).Info("Campaign recovered")
	return true
}

func (s *Service) markFailed(ctx context.Context, id string) {
	updated, err := s.store.Update(ctx, id, Patch{Status: statusPtr(StatusFailed)})
	if err != nil {
		log.Campaign(id).WithError(err).Error("Failed to mark campaign as failed")
		return
	}
	if updated != nil {
		s.runner.sink.Publish(NewProgressEvent(updated))
	}
}

// keyedMutex hands out one mutex per key. Entries are dropped once nobody
// holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
