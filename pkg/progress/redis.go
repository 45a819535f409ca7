package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

const DefaultRedisChannel = "campaign_progress"

// RedisPublisher forwards events to a Redis pub/sub channel from a single
// background worker so Publish never waits on the network.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	queue   chan campaign.ProgressEvent

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		queue:   make(chan campaign.ProgressEvent, 1000),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

func (p *RedisPublisher) Publish(event campaign.ProgressEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- event:
	default:
		log.Campaign(event.CampaignID).Warn("Redis progress queue full, dropping event")
	}
}

func (p *RedisPublisher) worker() {
	defer p.wg.Done()
	for event := range p.queue {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
			log.Campaign(event.CampaignID).WithError(err).Warn("Failed to publish progress to Redis")
		}
		cancel()
	}
}

// Close flushes queued events and stops the worker.
func (p *RedisPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// RedisRelay feeds events received on the Redis channel into a local sink,
// usually the Hub serving this instance's WebSocket clients.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   campaign.ProgressSink
}

func NewRedisRelay(client *redis.Client, channel string, local campaign.ProgressSink) *RedisRelay {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisRelay{client: client, channel: channel, local: local}
}

// Run blocks until ctx is done or the subscription fails to start.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event campaign.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Print(nil).WithError(err).Warn("Discarding malformed progress message")
				continue
			}
			r.local.Publish(event)
		}
	}
}
