package main

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voicedesk/internal/httpapi"
	"voicedesk/internal/webhook"
	"voicedesk/pkg/utils"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, db *sql.DB, webhooks *webhook.Handler, api *httpapi.Handler, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks (public).
	// NOTE: the Twilio endpoint should be protected by signature validation
	// in production; the voice-agent endpoints rely on the injected call id.
	webhooks.Register(r)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	api.Register(v1)
}
