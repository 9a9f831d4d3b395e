package main

import (
	"meetingbot-platform/internal/auth"
	"meetingbot-platform/internal/calls"
	"meetingbot-platform/internal/config"
	"meetingbot-platform/internal/httpapi"
	"meetingbot-platform/internal/metrics"
	"meetingbot-platform/internal/orchestrator"
	"meetingbot-platform/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	cfg      config.Config
	orch     *orchestrator.Orchestrator
	registry *calls.Registry
	stats    *metrics.Collector
	client   signaling.Client
	promReg  *prometheus.Registry
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Orchestrator:       deps.orch,
		Registry:           deps.registry,
		Stats:              deps.stats,
		DefaultDisplayName: deps.cfg.Bot.DisplayName,
		DefaultTenantID:    deps.cfg.Bot.DefaultTenantID,
	}
	gw := httpapi.NotificationGateway{Processor: deps.client}

	api := r.Group("/api/calling")
	{
		// Signaling webhook (public). The platform redelivers on non-2xx;
		// authenticity checks belong to the notification processor.
		api.POST("", gw.Handle)

		api.GET("/health", h.Health)
		api.GET("/stats", h.StatsSnapshot)

		join := api.Group("")
		if deps.cfg.Bot.APIToken != "" {
			join.Use(auth.RequireStaticToken(deps.cfg.Bot.APIToken))
		}
		join.POST("/join", h.Join)
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.promReg, promhttp.HandlerOpts{})))
}
