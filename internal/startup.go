package internal

import (
	"context"
	mathrand "math/rand/v2"
	"time"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/env"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

// Connector opens the WhatsApp session.
type Connector interface {
	Connect() error
}

// Recoverer restarts campaigns interrupted by a process restart.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

func connectWithRetry(conn Connector, retries int, baseBackoff time.Duration, maxBackoff time.Duration) error {
	if retries <= 1 {
		return conn.Connect()
	}
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = conn.Connect()
		if lastErr == nil {
			return nil
		}
		if attempt == retries {
			break
		}

		// Exponential backoff with small jitter.
		backoff := baseBackoff * time.Duration(1<<(attempt-1))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(mathrand.Int64N(int64(500*time.Millisecond) + 1))
		time.Sleep(backoff + jitter)
	}
	return lastErr
}

func Startup(conn Connector, campaigns Recoverer) {
	log.Print(nil).Info("Running Startup Tasks")

	retries := env.GetEnvIntOrDefault("WHATSAPP_STARTUP_RECONNECT_RETRIES", 5)
	baseBackoff := env.GetEnvDurationOrDefault("WHATSAPP_STARTUP_RECONNECT_BACKOFF_BASE", 2*time.Second)
	maxBackoff := env.GetEnvDurationOrDefault("WHATSAPP_STARTUP_RECONNECT_BACKOFF_MAX", 30*time.Second)

	if err := connectWithRetry(conn, retries, baseBackoff, maxBackoff); err != nil {
		// Recovery still runs. Campaigns that target the live roster are skipped.
		log.Print(nil).Warn("Failed to connect WhatsApp client: " + err.Error())
	}

	if !env.GetEnvBoolOrDefault("CAMPAIGN_RECOVER_ON_STARTUP", true) {
		log.Print(nil).Info("Campaign recovery on startup disabled")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	recovered, err := campaigns.Recover(ctx)
	if err != nil {
		log.Print(nil).Error("Failed to recover campaigns: " + err.Error())
		return
	}
	log.Print(nil).WithField("recovered", recovered).Info("Startup campaign recovery complete")
}
