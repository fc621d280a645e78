package httpserver

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/sophnet_gateway/internal/app"
	"github.com/ncecere/sophnet_gateway/internal/health"
	"github.com/ncecere/sophnet_gateway/internal/router"
)

type dependencyCheck struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type healthReport struct {
	Status   string                     `json:"status"`
	Aliases  int                        `json:"aliases"`
	Checks   map[string]dependencyCheck `json:"checks"`
	Routes   []health.Result            `json:"routes"`
	Breakers []router.BreakerState      `json:"breakers"`
}

func registerProbeRoutes(fiberApp *fiber.App, container *app.Container) {
	fiberApp.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	// readyz fails while no alias has a route that can take traffic.
	fiberApp.Get("/readyz", func(c *fiber.Ctx) error {
		for alias := range container.Engine.ListAliases() {
			if len(container.Engine.SelectRoutes(alias)) > 0 {
				return c.SendString("ready")
			}
		}
		return c.Status(fiber.StatusServiceUnavailable).SendString("no healthy routes")
	})

	fiberApp.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		return c.JSON(buildHealthReport(ctx, container))
	})
}

func buildHealthReport(ctx context.Context, container *app.Container) healthReport {
	report := healthReport{
		Status:   "ok",
		Aliases:  len(container.Engine.ListAliases()),
		Checks:   make(map[string]dependencyCheck),
		Routes:   []health.Result{},
		Breakers: container.Engine.Breakers(),
	}

	if container.Redis != nil {
		start := time.Now()
		err := container.Redis.Ping(ctx).Err()
		check := dependencyCheck{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
		if err != nil {
			check.Status = "error"
			check.Error = err.Error()
			report.Status = "degraded"
		}
		report.Checks["redis"] = check
	}

	for _, b := range report.Breakers {
		if b.Open {
			report.Status = "degraded"
		}
	}
	if container.HealthMon != nil {
		report.Routes = container.HealthMon.Snapshot()
		for _, res := range report.Routes {
			if !res.Healthy {
				report.Status = "degraded"
			}
		}
	}
	return report
}
