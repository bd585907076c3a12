package rest

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is anything whose reachability belongs in the liveness report.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Health struct {
	Version   string
	StartedAt time.Time
	Checks    map[string]Pinger
}

// InitRestHealth mounts /healthz and /metrics on the root router, both
// unauthenticated so probes and scrapers can reach them.
func InitRestHealth(app fiber.Router, version string, checks map[string]Pinger) Health {
	handler := Health{Version: version, StartedAt: time.Now(), Checks: checks}
	app.Get("/healthz", handler.GetStatus)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	return handler
}

func (h *Health) GetStatus(c *fiber.Ctx) error {
	components := make(map[string]string, len(h.Checks))
	status, code := fiber.StatusOK, "SUCCESS"
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	for name, check := range h.Checks {
		if err := check.Ping(ctx); err != nil {
			components[name] = err.Error()
			status, code = fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
			continue
		}
		components[name] = "ok"
	}
	return c.Status(status).JSON(utils.ResponseData{
		Status:  status,
		Code:    code,
		Message: "Service status",
		Results: fiber.Map{
			"version":    h.Version,
			"uptime":     time.Since(h.StartedAt).Round(time.Second).String(),
			"components": components,
		},
	})
}
