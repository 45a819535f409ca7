package internal

import (
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	pkgCampaign "github.com/gdbrns/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/gdbrns/go-whatsapp-campaign-engine/pkg/router"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-campaign-engine/pkg/whatsapp"

	ctlCampaign "github.com/gdbrns/go-whatsapp-campaign-engine/internal/campaign"
	ctlContactGroup "github.com/gdbrns/go-whatsapp-campaign-engine/internal/contactgroup"
	ctlDevice "github.com/gdbrns/go-whatsapp-campaign-engine/internal/device"
	ctlIndex "github.com/gdbrns/go-whatsapp-campaign-engine/internal/index"
	ctlProgress "github.com/gdbrns/go-whatsapp-campaign-engine/internal/progress"
)

// Dependencies are the long-lived services the routes are bound to.
type Dependencies struct {
	Campaigns     *pkgCampaign.Service
	ContactGroups ctlContactGroup.Store
	Session       ctlDevice.Session
	Progress      ctlProgress.Subscriber
	MediaDir      string
	// DocsDir holds the swag output (swagger.json, swagger.yaml).
	DocsDir string
}

func Routes(app *fiber.App, deps Dependencies) {
	// Configure OpenAPI / Swagger
	specURL := router.BaseURL + "/docs/swagger.json"
	swaggerHandler := swagger.New(swagger.Config{
		URL: specURL,
	})
	docsDir := deps.DocsDir
	if docsDir == "" {
		docsDir = "docs"
	}

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	app.Get(router.BaseURL+"/docs/swagger.json", func(c *fiber.Ctx) error {
		return c.SendFile(filepath.Join(docsDir, "swagger.json"))
	})
	app.Get(router.BaseURL+"/docs/swagger.yaml", func(c *fiber.Ctx) error {
		return c.SendFile(filepath.Join(docsDir, "swagger.yaml"))
	})
	app.Get(router.BaseURL+"/docs/*", swaggerHandler)

	// Route for Uploaded Media
	// ---------------------------------------------
	if deps.MediaDir != "" {
		app.Static(router.BaseURL+strings.TrimSuffix(pkgWhatsApp.MediaPathPrefix, "/"), deps.MediaDir)
	}

	// Route for Campaigns
	// ---------------------------------------------
	campaigns := ctlCampaign.New(deps.Campaigns, deps.MediaDir)
	app.Get(router.BaseURL+"/campaigns", campaigns.List)
	app.Post(router.BaseURL+"/campaigns", campaigns.Create)
	app.Post(router.BaseURL+"/campaigns/create", campaigns.Create)
	app.Get(router.BaseURL+"/campaigns/:id", campaigns.Get)
	app.Delete(router.BaseURL+"/campaigns/:id", campaigns.Delete)
	app.Post(router.BaseURL+"/campaigns/:id/execute", campaigns.Execute)
	app.Post(router.BaseURL+"/campaigns/:id/pause", campaigns.Pause)
	app.Post(router.BaseURL+"/campaigns/:id/resume", campaigns.Resume)
	app.Post(router.BaseURL+"/campaigns/:id/restart", campaigns.Restart)

	// Route for Contact Groups
	// ---------------------------------------------
	groups := ctlContactGroup.New(deps.ContactGroups)
	app.Get(router.BaseURL+"/contact-groups", groups.List)
	app.Post(router.BaseURL+"/contact-groups", groups.Create)
	app.Get(router.BaseURL+"/contact-groups/:id/members", groups.GetMembers)
	app.Post(router.BaseURL+"/contact-groups/:id/members", groups.AddMembers)

	// Route for WhatsApp Session
	// ---------------------------------------------
	session := ctlDevice.New(deps.Session)
	app.Get(router.BaseURL+"/whatsapp/status", session.GetStatus)
	app.Post(router.BaseURL+"/whatsapp/login", session.Login)
	app.Delete(router.BaseURL+"/whatsapp/session", session.Logout)
	app.Get(router.BaseURL+"/whatsapp/groups", router.HttpCacheInMemory(router.CacheTTLSeconds), session.GetGroups)
	app.Get(router.BaseURL+"/whatsapp/version", session.GetVersion)
	app.Post(router.BaseURL+"/whatsapp/version/refresh", session.RefreshVersion)

	// Route for Progress Feed
	// ---------------------------------------------
	app.Use(router.BaseURL+"/ws", ctlProgress.Upgrade)
	app.Get(router.BaseURL+"/ws", ctlProgress.Feed(deps.Progress))
}
