package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sendRecord struct {
	Recipient string
	Caption   string
	Media     *campaign.Media
	At        time.Time
}

// fakeChannel records every send. failOn holds 1-based send attempt numbers
// that return an error.
type fakeChannel struct {
	mu           sync.Mutex
	ready        bool
	contacts     []campaign.Contact
	participants map[string][]campaign.Contact
	failOn       map[int]bool
	attempts     int
	sends        []sendRecord
}

func newFakeChannel(contacts int) *fakeChannel {
	ch := &fakeChannel{
		ready:        true,
		participants: make(map[string][]campaign.Contact),
		failOn:       make(map[int]bool),
	}
	for i := 1; i <= contacts; i++ {
		ch.contacts = append(ch.contacts, campaign.Contact{
			ID:   fmt.Sprintf("62810000000%02d", i),
			Name: fmt.Sprintf("Contact %d", i),
		})
	}
	return ch
}

func (f *fakeChannel) record(rec sendRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failOn[f.attempts] {
		return &campaign.ChannelError{Recipient: rec.Recipient, Err: errors.New("recipient not on whatsapp")}
	}
	f.sends = append(f.sends, rec)
	return nil
}

func (f *fakeChannel) SendText(_ context.Context, recipient string, text string) (string, error) {
	return "msg", f.record(sendRecord{Recipient: recipient, Caption: text, At: time.Now()})
}

func (f *fakeChannel) SendMedia(_ context.Context, recipient string, caption string, media campaign.Media) (string, error) {
	return "msg", f.record(sendRecord{Recipient: recipient, Caption: caption, Media: &media, At: time.Now()})
}

func (f *fakeChannel) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeChannel) GetContacts(context.Context) ([]campaign.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return nil, campaign.ErrChannelNotReady
	}
	return append([]campaign.Contact(nil), f.contacts...), nil
}

func (f *fakeChannel) GetGroupParticipants(_ context.Context, groupID string) ([]campaign.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[groupID]
	if !ok {
		return nil, &campaign.NotFoundError{Resource: "whatsapp group", ID: groupID}
	}
	return append([]campaign.Contact(nil), p...), nil
}

func (f *fakeChannel) Sends() []sendRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendRecord(nil), f.sends...)
}

func (f *fakeChannel) Recipients() []string {
	var out []string
	for _, s := range f.Sends() {
		out = append(out, s.Recipient)
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []campaign.ProgressEvent
	hook   func(campaign.ProgressEvent)
}

func (l *eventLog) Publish(e campaign.ProgressEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	hook := l.hook
	l.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (l *eventLog) SetHook(hook func(campaign.ProgressEvent)) {
	l.mu.Lock()
	l.hook = hook
	l.mu.Unlock()
}

func (l *eventLog) Events() []campaign.ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]campaign.ProgressEvent(nil), l.events...)
}

type harness struct {
	store   *store.MemoryCampaignStore
	groups  *store.MemoryContactGroupStore
	channel *fakeChannel
	events  *eventLog
	runner  *campaign.Runner
	svc     *campaign.Service
}

func fastInterval(int, int) time.Duration { return 10 * time.Millisecond }

func newHarness(t *testing.T, contacts int, opts ...campaign.RunnerOption) *harness {
	t.Helper()
	h := &harness{
		store:   store.NewMemoryCampaignStore(),
		groups:  store.NewMemoryContactGroupStore(),
		channel: newFakeChannel(contacts),
		events:  &eventLog{},
	}
	h.runner = campaign.NewRunner(h.store, h.channel, h.events, opts...)
	h.svc = campaign.NewService(h.store, campaign.NewTargetResolver(h.groups, h.channel), h.runner)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.runner.Shutdown(ctx))
	})
	return h
}

func localRequest(name string) campaign.CreateRequest {
	return campaign.CreateRequest{
		Name:         name,
		Message:      "Hello from the campaign",
		TargetType:   campaign.TargetLocalContacts,
		ScheduleType: campaign.ScheduleImmediate,
		MinInterval:  1,
		MaxInterval:  1,
	}
}

// waitForStatus waits until the campaign reaches want and its loop exited.
func (h *harness) waitForStatus(t *testing.T, id string, want campaign.Status) *campaign.Campaign {
	t.Helper()
	require.Eventually(t, func() bool {
		c, err := h.store.Get(context.Background(), id)
		return err == nil && c != nil && c.Status == want && !h.runner.IsActive(id)
	}, 15*time.Second, 5*time.Millisecond, "campaign never reached %s", want)
	c, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}
