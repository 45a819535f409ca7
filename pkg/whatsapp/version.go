package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"golang.org/x/sync/singleflight"
)

var ErrVersionOutdated = errors.New("whatsapp client version is outdated for QR pairing, version refreshed, retry login")

type VersionStatus struct {
	CurrentVersion store.WAVersionContainer `json:"currentVersion"`
	LastRefreshed  *time.Time               `json:"lastRefreshed,omitempty"`
	LastError      string                   `json:"lastError,omitempty"`
}

// versionRefresher pulls the current WhatsApp Web version so QR pairing
// keeps working after WhatsApp bumps the minimum client version.
type versionRefresher struct {
	group       singleflight.Group
	minInterval time.Duration
	httpClient  *http.Client
	fetch       func(ctx context.Context, httpClient *http.Client) (*store.WAVersionContainer, error)

	mu            sync.RWMutex
	lastRefreshed *time.Time
	lastError     string
}

func newVersionRefresher(minInterval time.Duration) *versionRefresher {
	return &versionRefresher{
		minInterval: minInterval,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		fetch:       whatsmeow.GetLatestVersion,
	}
}

func (v *versionRefresher) Status() VersionStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var last *time.Time
	if v.lastRefreshed != nil {
		t := *v.lastRefreshed
		last = &t
	}
	return VersionStatus{
		CurrentVersion: store.GetWAVersion(),
		LastRefreshed:  last,
		LastError:      v.lastError,
	}
}

// Refresh applies the latest version globally. Unless force is set it is a
// no-op within minInterval of the previous attempt.
func (v *versionRefresher) Refresh(ctx context.Context, force bool) (VersionStatus, error) {
	if !force && v.minInterval > 0 {
		v.mu.RLock()
		last := v.lastRefreshed
		v.mu.RUnlock()
		if last != nil && time.Since(*last) < v.minInterval {
			return v.Status(), nil
		}
	}

	_, err, _ := v.group.Do("refresh", func() (interface{}, error) {
		latest, err := v.fetch(ctx, v.httpClient)
		if err == nil && latest == nil {
			err = errors.New("latest WhatsApp Web version is nil")
		}

		now := time.Now()
		v.mu.Lock()
		v.lastRefreshed = &now
		v.lastError = ""
		if err != nil {
			v.lastError = err.Error()
		}
		v.mu.Unlock()

		if err != nil {
			return nil, err
		}
		store.SetWAVersion(*latest)
		return nil, nil
	})
	return v.Status(), err
}
