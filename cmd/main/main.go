package main

// @title Go WhatsApp Campaign Engine
// @version 1.0.0
// @description Bulk WhatsApp campaign scheduling and delivery over a single multi-device session

// @contact.name gdbrns
// @contact.url https://github.com/gdbrns/go-whatsapp-campaign-engine

// @license.name MIT
// @license.url https://github.com/gdbrns/go-whatsapp-campaign-engine/blob/main/LICENSE

// @host localhost:7001
// @BasePath /

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/distlock"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/env"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/log"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/progress"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/router"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/store"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-campaign-engine/pkg/whatsapp"

	"github.com/gdbrns/go-whatsapp-campaign-engine/internal"
	ctlContactGroup "github.com/gdbrns/go-whatsapp-campaign-engine/internal/contactgroup"
)

type Server struct {
	Address string
	Port    string
}

type stores struct {
	campaigns campaign.CampaignStore
	groups    ctlContactGroup.Store
	db        *sql.DB
	close     func()
}

func openStores(ctx context.Context) (*stores, error) {
	dsn := env.GetEnvStringOrDefault("CAMPAIGN_DATASTORE_URI", "")
	if dsn == "" {
		log.Print(nil).Warn("CAMPAIGN_DATASTORE_URI is empty, campaigns are kept in memory only")
		return &stores{
			campaigns: store.NewMemoryCampaignStore(),
			groups:    store.NewMemoryContactGroupStore(),
			close:     func() {},
		}, nil
	}

	pg, err := store.OpenPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pg.InitializeSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	log.Print(nil).Info("Campaign datastore is ok")
	return &stores{
		campaigns: pg,
		groups:    pg,
		db:        pg.DB(),
		close:     func() { _ = pg.Close() },
	}, nil
}

func openRedis(ctx context.Context) (*redis.Client, error) {
	raw := env.GetEnvStringOrDefault("REDIS_URL", "")
	if raw == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Print(nil).Info("Redis is ok")
	return client, nil
}

func main() {
	var err error

	ctxStartup, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	// Initialize Stores
	db, err := openStores(ctxStartup)
	if err != nil {
		log.Print(nil).Fatal("Failed to open campaign datastore: " + err.Error())
	}
	defer db.close()

	rdb, err := openRedis(ctxStartup)
	if err != nil {
		log.Print(nil).Fatal("Failed to connect to Redis: " + err.Error())
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Initialize WhatsApp Channel
	cfg := pkgWhatsApp.ConfigFromEnv()
	channel, err := pkgWhatsApp.Open(ctxStartup, cfg)
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}

	// Initialize Progress Delivery
	hub := progress.NewHub(progress.DefaultBuffer)
	sinks := progress.Multi{}

	ctxRelay, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()

	var publisher *progress.RedisPublisher
	if rdb != nil {
		channelName := env.GetEnvStringOrDefault("PROGRESS_REDIS_CHANNEL", progress.DefaultRedisChannel)
		publisher = progress.NewRedisPublisher(rdb, channelName)
		sinks = append(sinks, publisher)

		// Local subscribers are fed from Redis so every instance sees every event once.
		relay := progress.NewRedisRelay(rdb, channelName, hub)
		go func() {
			if err := relay.Run(ctxRelay); err != nil {
				log.Print(nil).Error("Progress relay stopped: " + err.Error())
			}
		}()
	} else {
		sinks = append(sinks, hub)
	}

	var webhook *progress.WebhookSink
	if url := env.GetEnvStringOrDefault("PROGRESS_WEBHOOK_URL", ""); url != "" {
		webhook, err = progress.NewWebhookSink(progress.WebhookConfig{
			URL:           url,
			Secret:        env.GetEnvStringOrDefault("PROGRESS_WEBHOOK_SECRET", ""),
			Workers:       env.GetEnvIntOrDefault("PROGRESS_WEBHOOK_WORKERS", 4),
			RetryLimit:    env.GetEnvIntOrDefault("PROGRESS_WEBHOOK_RETRY_LIMIT", 3),
			AllowInsecure: env.GetEnvBoolOrDefault("PROGRESS_WEBHOOK_ALLOW_INSECURE", false),
		})
		if err != nil {
			log.Print(nil).Fatal("Invalid PROGRESS_WEBHOOK_URL: " + err.Error())
		}
		sinks = append(sinks, webhook)
	}

	// Initialize Campaign Engine
	var opts []campaign.RunnerOption
	if rdb != nil || db.db != nil {
		leaseTTL := env.GetEnvDurationOrDefault("CAMPAIGN_LEASE_TTL", 2*time.Minute)
		opts = append(opts,
			campaign.WithLeaser(distlock.NewCampaignLeaser(rdb, db.db, leaseTTL)),
			campaign.WithLeaseRenewal(leaseTTL/3))
	}
	runner := campaign.NewRunner(db.campaigns, channel, sinks, opts...)
	resolver := campaign.NewTargetResolver(db.groups, channel)
	svc := campaign.NewService(db.campaigns, resolver, runner)

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log.Logger())),
	), cron.WithSeconds())

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler:   router.HttpErrorHandler,
		BodyLimit:      router.BodyLimitBytes(),
		ReadBufferSize: 8192,
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), router.BaseURL+"/ws")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Load Internal Routes
	internal.Routes(app, internal.Dependencies{
		Campaigns:     svc,
		ContactGroups: db.groups,
		Session:       channel,
		Progress:      hub,
		MediaDir:      cfg.MediaDir,
		DocsDir:       env.GetEnvStringOrDefault("HTTP_DOCS_DIR", "docs"),
	})

	// Running Startup Tasks
	internal.Startup(channel, svc)

	// Running Routines Tasks
	internal.Routines(c, channel, runner)

	// Get Server Configuration with defaults
	var serverConfig Server

	// SERVER_ADDRESS: default "0.0.0.0" (all interfaces)
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")

	// SERVER_PORT: default "7001"
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "7001")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown
	// Wait 5 Seconds Before Graceful Shutdown
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Try To Shutdown Server
	err = app.ShutdownWithContext(ctxShutdown)
	if err != nil {
		log.Print(nil).Error(err.Error())
	}

	// Try To Shutdown Cron
	c.Stop()

	// Stop Campaign Loops, counters of in-flight sends are persisted first
	if err := runner.Shutdown(ctxShutdown); err != nil {
		log.Print(nil).Warn("Campaign loops did not stop in time: " + err.Error())
	}

	// Flush Progress Sinks
	if webhook != nil {
		webhook.Shutdown(ctxShutdown)
	}
	if publisher != nil {
		publisher.Close()
	}
	cancelRelay()

	channel.Disconnect()
}
