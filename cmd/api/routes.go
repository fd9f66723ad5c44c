package main

import (
	"github.com/gin-gonic/gin"

	"calltrack-platform/internal/httpapi"
	"calltrack-platform/internal/obs"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus exposition lives on /metricsz; /metrics/* is the domain
	// aggregate namespace.
	r.GET("/metricsz", gin.WrapH(obs.Handler()))

	// Ingestion surfaces (public; webhook authentication is out of scope).
	r.POST("/webhooks/call-completed", h.WebhookCallCompleted)
	r.POST("/webhooks/call-updated", h.WebhookCallUpdated)
	r.POST("/ingest/calls", h.IngestCalls)

	m := r.Group("/metrics")
	{
		m.GET("/answer-rate", h.AnswerRate)
		m.GET("/conversion", h.Conversion)
		m.GET("/agent-scorecard", h.AgentScorecard)
		m.GET("/source-conversion", h.SourceConversion)
		m.GET("/company-breakdown", h.CompanyBreakdown)
		m.GET("/duration-buckets", h.DurationBuckets)
		m.GET("/time-buckets", h.TimeBuckets)
		m.GET("/heatmap", h.Heatmap)
		m.GET("/speed-to-answer", h.SpeedToAnswer)
		m.GET("/agent-occupancy", h.AgentOccupancy)
		m.GET("/new-vs-returning", h.NewVsReturning)
		m.GET("/missed", h.Missed)
		m.GET("/data-quality", h.DataQuality)
		m.GET("/tag-summary", h.TagSummary)
	}

	r.GET("/reports/avg-call-time-last-week", h.AvgCallTimeLastWeek)

	admin := r.Group("/admin")
	{
		admin.POST("/refresh-calls", h.AdminRefreshCalls)
		admin.POST("/quick-repair", h.AdminQuickRepair)
		admin.GET("/preview-agent", h.AdminPreviewAgent)
	}

	debug := r.Group("/debug")
	{
		debug.GET("/db-stats", h.DebugDBStats)
		debug.GET("/dates", h.DebugDates)
	}
}
