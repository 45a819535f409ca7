package internal

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/env"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-campaign-engine/pkg/whatsapp"
)

// Maintainer is the channel surface the background routines use.
type Maintainer interface {
	EnsureConnected() (bool, error)
	IsReady() bool
	RefreshVersion(ctx context.Context, force bool) (pkgWhatsApp.VersionStatus, error)
}

// ActiveLister reports the campaigns looping in this process.
type ActiveLister interface {
	Active() []string
}

// Routines registers the cron jobs and starts the scheduler. whatsmeow
// reconnects on its own after transient drops; the health check covers
// sessions it gave up on.
func Routines(c *cron.Cron, channel Maintainer, runner ActiveLister) {
	log.Print(nil).Info("Running Routine Tasks")

	if env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_HEALTH_CHECK_CRON", true) {
		_, err := c.AddFunc("0 */5 * * * *", func() {
			healthCheck(channel, len(runner.Active()))
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on whatsmeow event handlers")
	}

	_, err := c.AddFunc("30 * * * * *", func() {
		active := runner.Active()
		if len(active) == 0 {
			return
		}
		log.Print(nil).WithField("campaigns", strings.Join(active, ",")).Info("Active campaigns: " + strconv.Itoa(len(active)))
	})
	if err != nil {
		log.Print(nil).WithField("error", err.Error()).Error("Failed to add active campaign cron job")
	}

	if env.GetEnvBoolOrDefault("WHATSAPP_ENABLE_WAVERSION_REFRESH_CRON", false) {
		// robfig/cron with seconds field (6 parts). Default: daily at 03:00:00.
		spec := env.GetEnvStringOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_SPEC", "0 0 3 * * *")
		force := env.GetEnvBoolOrDefault("WHATSAPP_WAVERSION_REFRESH_CRON_FORCE", false)
		_, err := c.AddFunc(spec, func() {
			refreshVersion(channel, force)
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add WA Web version refresh cron job")
		} else {
			log.Print(nil).WithField("spec", spec).WithField("force", force).Info("WA Web version refresh cron enabled")
		}
	}

	c.Start()
}

func healthCheck(channel Maintainer, active int) {
	attempted, err := channel.EnsureConnected()
	switch {
	case err != nil:
		log.Print(nil).WithField("active_campaigns", active).Warn("WhatsApp client reconnect failed: " + err.Error())
	case attempted:
		log.Print(nil).WithField("active_campaigns", active).Info("WhatsApp client reconnected")
	case channel.IsReady():
		log.Print(nil).Debug("WhatsApp client healthy")
	default:
		log.Print(nil).Debug("WhatsApp client not paired")
	}
}

func refreshVersion(channel Maintainer, force bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, err := channel.RefreshVersion(ctx, force)
	v := status.CurrentVersion
	versionStr := strconv.FormatUint(uint64(v[0]), 10) + "." + strconv.FormatUint(uint64(v[1]), 10) + "." + strconv.FormatUint(uint64(v[2]), 10)
	if err != nil {
		log.Print(nil).WithField("version", versionStr).WithField("force", force).Error("WA Web version refresh failed: " + err.Error())
		return
	}
	log.Print(nil).WithField("version", versionStr).WithField("force", force).Info("WA Web version refresh completed")
}
