package rest

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kinopsis/agensalud-mvp-sub003/channels"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/application"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/audit"
	"github.com/kinopsis/agensalud-mvp-sub003/core/config"
	"github.com/kinopsis/agensalud-mvp-sub003/ui/rest/middleware"
	"github.com/kinopsis/agensalud-mvp-sub003/ui/websocket"
)

// AppDependencies is everything the HTTP surface is wired to. Hub and
// Audit are optional.
type AppDependencies struct {
	Manager  *channels.Manager
	Ingestor *application.WebhookIngestor
	Audit    audit.Store
	Hub      *websocket.Hub
	Checks   map[string]Pinger
}

// NewApp builds the fiber application: public health, metrics and webhook
// routes, plus the authenticated, tenant-scoped /api group.
func NewApp(cfg *config.Config, deps AppDependencies) *fiber.App {
	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		BodyLimit:               4 * 1024 * 1024,
		Network:                 "tcp",
		AppName:                 "Channel Orchestrator",
		DisableStartupMessage:   true,
		ServerHeader:            "Hidden",
		ErrorHandler:            middleware.ErrorHandler,
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedHost
	}

	app := fiber.New(fiberConfig)

	app.Use(requestid.New())

	origins := strings.Join(cfg.App.CorsAllowedOrigins, ", ")
	if cfg.App.BaseUrl != "" && !strings.Contains(origins, cfg.App.BaseUrl) {
		origins += ", " + cfg.App.BaseUrl
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Trim(origins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, " + middleware.HeaderTenantID,
	}))
	app.Use(middleware.Recovery())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if cfg.App.Debug {
		app.Use(logger.New())
	}

	root := app.Group(cfg.App.BasePath)
	InitRestHealth(root, cfg.App.Version, deps.Checks)
	if deps.Ingestor != nil {
		InitRestWebhook(root, deps.Ingestor)
	}

	apiGroup := root.Group("/api")
	if accounts := basicAuthAccounts(cfg.App.BasicAuth); len(accounts) > 0 {
		apiGroup.Use(basicauth.New(basicauth.Config{
			Users: accounts,
			Next: func(c *fiber.Ctx) bool {
				return c.Method() == fiber.MethodOptions
			},
			Unauthorized: func(c *fiber.Ctx) error {
				c.Set(fiber.HeaderWWWAuthenticate, "basic realm=Restricted")
				return c.Status(fiber.StatusUnauthorized).JSON(struct {
					Status  int    `json:"status"`
					Code    string `json:"code"`
					Message string `json:"message"`
				}{fiber.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"})
			},
		}))
	}
	apiGroup.Use(middleware.RequireTenant())

	InitRestInstance(apiGroup, deps.Manager, deps.Audit, middleware.NewPollLimiter(cfg.App.PollRatePerMinute))
	InitRestLegacy(apiGroup, deps.Manager)
	if deps.Hub != nil {
		websocket.RegisterRoutes(apiGroup, deps.Hub, deps.Manager)
	}

	return app
}

// basicAuthAccounts parses "user:secret" pairs; malformed entries are skipped.
func basicAuthAccounts(pairs []string) map[string]string {
	accounts := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		user, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || user == "" {
			continue
		}
		accounts[user] = secret
	}
	return accounts
}
