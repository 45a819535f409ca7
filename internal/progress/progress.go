package progress

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Subscriber hands out per-connection progress feeds.
type Subscriber interface {
	Subscribe(campaignID string) (<-chan campaign.ProgressEvent, func())
}

// Upgrade rejects plain HTTP requests on the feed route.
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Feed
// @Summary     Campaign Progress Feed
// @Description WebSocket stream of campaign_progress_update events. Use campaignId to follow one campaign
// @Tags        Progress
// @Param       campaignId query string false "Campaign ID"
// @Router      /ws [get]
func Feed(hub Subscriber) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		campaignID := conn.Query("campaignId")
		events, cancel := hub.Subscribe(campaignID)
		defer cancel()

		logger := log.Print(nil).WithField("campaign_id", campaignID)
		logger.Info("Progress subscriber connected")
		defer logger.Info("Progress subscriber disconnected")

		// The read side only reacts to pongs and close frames.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	})
}
