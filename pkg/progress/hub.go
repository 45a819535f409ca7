package progress

import (
	"sync"
	"sync/atomic"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
)

const DefaultBuffer = 64

// Hub fans progress events out to in-process subscribers. A subscriber whose
// buffer is full misses the event; nothing is replayed.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	buffer  int
	dropped atomic.Int64
}

type subscriber struct {
	ch         chan campaign.ProgressEvent
	campaignID string
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
	}
}

func (h *Hub) Publish(event campaign.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.campaignID != "" && s.campaignID != event.CampaignID {
			continue
		}
		select {
		case s.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener. An empty campaignID receives every
// campaign. The returned cancel func closes the channel and is safe to call
// more than once.
func (h *Hub) Subscribe(campaignID string) (<-chan campaign.ProgressEvent, func()) {
	s := &subscriber{
		ch:         make(chan campaign.ProgressEvent, h.buffer),
		campaignID: campaignID,
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events skipped because a subscriber was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Multi publishes to every non-nil sink in order.
type Multi []campaign.ProgressSink

func (m Multi) Publish(event campaign.ProgressEvent) {
	for _, s := range m {
		if s != nil {
			s.Publish(event)
		}
	}
}
