package progress

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
)

type WebhookConfig struct {
	URL        string
	Secret     string
	Workers    int
	RetryLimit int
	QueueSize  int
	Timeout    time.Duration
	Backoff    time.Duration
	// AllowInsecure accepts plain http and private network hosts.
	AllowInsecure bool
}

// WebhookSink posts every event as signed JSON to one endpoint.
type WebhookSink struct {
	cfg        WebhookConfig
	httpClient *http.Client
	queue      chan campaign.ProgressEvent
	ctx        context.Context
	cancel     context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	if err := validateURL(cfg.URL, cfg.AllowInsecure); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &WebhookSink{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		queue:      make(chan campaign.ProgressEvent, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s, nil
}

func (s *WebhookSink) Publish(event campaign.ProgressEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- event:
	default:
		log.Campaign(event.CampaignID).Warn("Progress webhook queue full, dropping event")
	}
}

// Shutdown stops accepting events, lets workers drain the queue and aborts
// pending retries once ctx expires.
func (s *WebhookSink) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
}

func (s *WebhookSink) worker() {
	defer s.wg.Done()
	for event := range s.queue {
		s.deliver(event)
	}
}

func (s *WebhookSink) deliver(event campaign.ProgressEvent) {
	logger := log.Campaign(event.CampaignID)

	payload, err := json.Marshal(event)
	if err != nil {
		logger.WithError(err).Error("Failed to encode progress webhook payload")
		return
	}
	signature := Sign(payload, s.cfg.Secret)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.RetryLimit; attempt++ {
		lastErr = s.post(payload, signature, event.Type)
		if lastErr == nil {
			return
		}
		if attempt < s.cfg.RetryLimit {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * s.cfg.Backoff):
			}
		}
	}
	logger.WithError(lastErr).WithField("attempts", s.cfg.RetryLimit).Warn("Progress webhook delivery failed")
}

func (s *WebhookSink) post(payload []byte, signature, eventType string) error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(EventHeader, eventType)
	req.Header.Set("User-Agent", "WhatsApp-Campaign-Engine/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
}

// Sign returns the "sha256=<hex>" HMAC of payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validateURL(rawURL string, allowInsecure bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url must be absolute")
	}
	if allowInsecure {
		if u.Scheme != "https" && u.Scheme != "http" {
			return fmt.Errorf("unsupported webhook scheme %q", u.Scheme)
		}
		return nil
	}

	if u.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "0.0.0.0" || strings.HasPrefix(host, "192.168.") || strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "172.") {
		return fmt.Errorf("private/local network URLs are not allowed")
	}
	return nil
}
