package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	qrCode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/env"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

const (
	qrChannelWaitTimeout = 2 * time.Minute
	logoutRequestTimeout = 30 * time.Second
	storeCleanupTimeout  = 5 * time.Second
	uploadCacheTTL       = time.Hour
)

var ErrNotPaired = errors.New("WhatsApp Client Store ID is Empty, Please Re-Login and Scan QR Code Again")

type Config struct {
	DatastoreURI string
	ProxyURL     string
	// SendInterval is the minimum spacing between any two outgoing messages
	// across all campaigns sharing the session.
	SendInterval    time.Duration
	VerifyRecipient bool
	MediaDir        string
	MediaMaxSize    int64
}

func ConfigFromEnv() Config {
	return Config{
		DatastoreURI:    env.MustGetEnvString("WHATSAPP_DATASTORE_URI"),
		ProxyURL:        env.GetEnvStringOrDefault("WHATSAPP_CLIENT_PROXY_URL", ""),
		SendInterval:    env.GetEnvDurationOrDefault("WHATSAPP_SEND_INTERVAL", 0),
		VerifyRecipient: env.GetEnvBoolOrDefault("WHATSAPP_VERIFY_RECIPIENT", false),
		MediaDir:        env.GetEnvStringOrDefault("CAMPAIGN_MEDIA_DIR", "./media"),
		MediaMaxSize:    env.GetEnvBytesOrDefault("WHATSAPP_MEDIA_MAX_SIZE", 16*1024*1024),
	}
}

type Status struct {
	Connected bool   `json:"connected"`
	LoggedIn  bool   `json:"loggedIn"`
	Paired    bool   `json:"paired"`
	Ready     bool   `json:"ready"`
	JID       string `json:"jid,omitempty"`
	QRCode    string `json:"qrCode,omitempty"`
}

type LoginResult struct {
	Message string `json:"message"`
	QRCode  string `json:"qrCode,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// Channel is the single WhatsApp session campaigns send through.
type Channel struct {
	cfg       Config
	container *sqlstore.Container
	media     *MediaLoader
	uploads   *uploadCache
	limiter   *rate.Limiter
	rosters   singleflight.Group
	versions  *versionRefresher

	mu       sync.RWMutex
	client   *whatsmeow.Client
	qrCode   string
	qrCancel context.CancelFunc
}

// Open loads (or creates) the device from the whatsmeow datastore. It does
// not connect.
func Open(ctx context.Context, cfg Config) (*Channel, error) {
	container, err := sqlstore.New(ctx, "pgx", cfg.DatastoreURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp client datastore: %w", err)
	}
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade operation failed: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load WhatsApp device: %w", err)
	}

	limit := rate.Inf
	if cfg.SendInterval > 0 {
		limit = rate.Every(cfg.SendInterval)
	}

	c := &Channel{
		cfg:       cfg,
		container: container,
		media:     NewMediaLoader(cfg.MediaDir, cfg.MediaMaxSize),
		uploads:   newUploadCache(uploadCacheTTL),
		limiter:   rate.NewLimiter(limit, 1),
		versions:  newVersionRefresher(10 * time.Minute),
	}
	c.client = c.newClient(device)

	log.Print(nil).Info("WhatsApp datastore is ok")
	return c, nil
}

func (c *Channel) newClient(device *store.Device) *whatsmeow.Client {
	store.DeviceProps.Os = proto.String(runtime.GOOS)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	client := whatsmeow.NewClient(device, nil)
	if len(c.cfg.ProxyURL) > 0 {
		if err := client.SetProxyAddress(c.cfg.ProxyURL); err != nil {
			log.Print(nil).WithError(err).Warn("Invalid WHATSAPP_CLIENT_PROXY_URL, connecting without proxy")
		}
	}
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true
	client.AddEventHandler(c.handleEvent)
	return client
}

func (c *Channel) current() *whatsmeow.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *Channel) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		log.Print(nil).Info("WhatsApp client connected: " + c.maskedJID())
	case *events.PairSuccess:
		log.Print(nil).Info("WhatsApp client paired: " + log.Mask(e.ID.User))
	case *events.Disconnected:
		log.Print(nil).Warn("WhatsApp client disconnected: " + c.maskedJID())
	case *events.LoggedOut:
		log.Print(nil).Error(fmt.Sprintf("WhatsApp client logged out, reason=%s", e.Reason.String()))
		go c.resetDevice()
	case *events.StreamReplaced:
		log.Print(nil).Warn("WhatsApp session opened elsewhere, disconnecting")
		go c.current().Disconnect()
	case *events.KeepAliveTimeout:
		log.Print(nil).Warn(fmt.Sprintf("WhatsApp client keepalive timeout, errors=%d, lastSuccess=%s", e.ErrorCount, e.LastSuccess.Format(time.RFC3339)))
	case *events.TemporaryBan:
		log.Print(nil).Error(fmt.Sprintf("WhatsApp client temporarily banned, reason=%s, expires=%s", e.Code, e.Expire))
	case *events.ConnectFailure:
		log.Print(nil).Error(fmt.Sprintf("WhatsApp client connection failure, reason=%s, message=%s", e.Reason, e.Message))
	}
}

func (c *Channel) maskedJID() string {
	client := c.current()
	if client == nil || client.Store.ID == nil {
		return "unpaired"
	}
	return log.Mask(client.Store.ID.User)
}

// resetDevice swaps in a fresh unpaired device after a logout so the next
// Login shows a QR code.
func (c *Channel) resetDevice() {
	c.mu.Lock()
	old := c.client
	c.client = c.newClient(c.container.NewDevice())
	c.qrCode = ""
	c.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	c.uploads.clear()
}

// Connect opens the websocket for a paired device. It is a no-op for an
// unpaired one, which must go through Login.
func (c *Channel) Connect() error {
	client := c.current()
	if client.Store.ID == nil {
		log.Print(nil).Warn("WhatsApp client is not paired, call login to scan a QR code")
		return nil
	}
	if client.IsConnected() {
		return nil
	}
	return client.Connect()
}

// EnsureConnected reconnects a paired session that dropped. It reports
// whether a reconnect was attempted.
func (c *Channel) EnsureConnected() (bool, error) {
	client := c.current()
	if client.Store.ID == nil || client.IsConnected() {
		return false, nil
	}
	return true, client.Connect()
}

func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.qrCancel != nil {
		c.qrCancel()
		c.qrCancel = nil
	}
	c.mu.Unlock()
	c.current().Disconnect()
}

func (c *Channel) IsReady() bool {
	client := c.current()
	return client != nil && client.IsConnected() && client.IsLoggedIn()
}

func (c *Channel) Status() Status {
	client := c.current()
	c.mu.RLock()
	qr := c.qrCode
	c.mu.RUnlock()

	s := Status{
		Connected: client.IsConnected(),
		LoggedIn:  client.IsLoggedIn(),
		Paired:    client.Store.ID != nil,
	}
	s.Ready = s.Connected && s.LoggedIn
	if s.Paired {
		s.JID = log.Mask(client.Store.ID.User)
	} else if qr != "" {
		s.QRCode = "data:image/png;base64," + qr
	}
	return s
}

func (c *Channel) Versions() VersionStatus {
	return c.versions.Status()
}

// RefreshVersion fetches the latest WhatsApp Web version. Unless force is
// set, calls within ten minutes of the last attempt are skipped.
func (c *Channel) RefreshVersion(ctx context.Context, force bool) (VersionStatus, error) {
	return c.versions.Refresh(ctx, force)
}

// Login reconnects a paired device or starts QR pairing and returns the
// first code as a PNG data URL. Later codes are exposed through Status.
func (c *Channel) Login(ctx context.Context) (*LoginResult, error) {
	client := c.current()

	if client.Store.ID != nil {
		if client.IsConnected() {
			return &LoginResult{Message: "WhatsApp Client is already logged in"}, nil
		}
		client.Disconnect()
		if err := client.Connect(); err != nil {
			return nil, err
		}
		return &LoginResult{Message: "WhatsApp Client is Reconnected"}, nil
	}

	c.mu.Lock()
	if c.qrCancel != nil {
		c.qrCancel()
	}
	qrCtx, cancel := context.WithTimeout(context.Background(), qrChannelWaitTimeout)
	c.qrCancel = cancel
	c.mu.Unlock()

	client.Disconnect()
	qrChan, err := client.GetQRChannel(qrCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := client.Connect(); err != nil {
		cancel()
		return nil, err
	}

	code, timeout, paired, err := nextQR(ctx, qrChan)
	if errors.Is(err, ErrVersionOutdated) {
		cancel()
		if _, refreshErr := c.versions.Refresh(ctx, true); refreshErr != nil {
			return nil, fmt.Errorf("%w: %v", err, refreshErr)
		}
		return nil, err
	}
	if err != nil {
		cancel()
		return nil, err
	}
	if paired {
		cancel()
		return &LoginResult{Message: "WhatsApp Client is already paired"}, nil
	}

	c.setQR(code)
	go c.watchQR(qrCtx, cancel, qrChan)

	return &LoginResult{
		Message: "Scan the QR code with WhatsApp on your phone",
		QRCode:  "data:image/png;base64," + code,
		Timeout: timeout,
	}, nil
}

func (c *Channel) setQR(code string) {
	c.mu.Lock()
	c.qrCode = code
	c.mu.Unlock()
}

// watchQR keeps consuming the pairing channel after Login returned so
// refreshed codes show up in Status until pairing ends.
func (c *Channel) watchQR(ctx context.Context, cancel context.CancelFunc, qrChan <-chan whatsmeow.QRChannelItem) {
	defer cancel()
	defer c.setQR("")
	for {
		code, _, paired, err := nextQR(ctx, qrChan)
		switch {
		case paired:
			log.Print(nil).Info("WhatsApp QR pairing succeeded")
			return
		case err != nil:
			if !errors.Is(err, context.Canceled) {
				log.Print(nil).WithError(err).Warn("WhatsApp QR pairing ended")
			}
			return
		default:
			c.setQR(code)
		}
	}
}

// nextQR returns the next base64 PNG code, or paired=true once the scan
// succeeded.
func nextQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) (string, int, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return "", 0, false, ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return "", 0, false, errors.New("whatsapp qr channel closed before delivering a code")
			}
			switch {
			case evt.Event == "code":
				qrPNG, err := qrCode.Encode(evt.Code, qrCode.Medium, 256)
				if err != nil {
					return "", 0, false, err
				}
				return base64.StdEncoding.EncodeToString(qrPNG), int(evt.Timeout.Seconds()), false, nil
			case evt.Event == whatsmeow.QRChannelSuccess.Event:
				return "", 0, true, nil
			case evt.Event == whatsmeow.QRChannelTimeout.Event:
				return "", 0, false, errors.New("whatsapp qr channel timed out")
			case evt.Event == whatsmeow.QRChannelErrUnexpectedEvent.Event:
				return "", 0, false, errors.New("whatsapp qr channel entered an unexpected state")
			case evt.Event == whatsmeow.QRChannelClientOutdated.Event:
				return "", 0, false, ErrVersionOutdated
			case evt.Event == whatsmeow.QRChannelScannedWithoutMultidevice.Event:
				return "", 0, false, errors.New("whatsapp qr scanned without multi-device enabled")
			case evt.Event == "error":
				if evt.Error != nil {
					return "", 0, false, evt.Error
				}
				return "", 0, false, errors.New("whatsapp qr channel reported an unspecified error")
			}
		}
	}
}

// Logout unlinks the device and replaces it with a fresh unpaired one.
func (c *Channel) Logout(ctx context.Context) error {
	client := c.current()
	if client.Store.ID == nil {
		return ErrNotPaired
	}

	logoutCtx, logoutCancel := context.WithTimeout(ctx, logoutRequestTimeout)
	defer logoutCancel()

	if err := client.Logout(logoutCtx); err != nil {
		client.Disconnect()
		storeCtx, storeCancel := context.WithTimeout(context.Background(), storeCleanupTimeout)
		defer storeCancel()
		if err := client.Store.Delete(storeCtx); err != nil {
			return err
		}
	}

	c.resetDevice()
	return nil
}
