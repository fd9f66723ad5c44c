// Package httpapi exposes the ingestion, aggregate, admin, and debug
// endpoints over Gin.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"calltrack-platform/internal/calltrack"
	"calltrack-platform/internal/ingest"
	"calltrack-platform/internal/metrics"
	"calltrack-platform/internal/normalize"
	"calltrack-platform/internal/store"
	"calltrack-platform/pkg/utils"
)

// refreshLockKey serializes provider refreshes across processes.
const refreshLockKey = "calltrack:refresh:lock"

const refreshLockTTL = 10 * time.Minute

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Metrics *metrics.Service
	Ingest  *ingest.Service
	Repo    store.Repository

	// Cache and RDB may be nil; everything degrades gracefully.
	Cache *Cache
	RDB   *redis.Client
}

// --- Webhooks ---

// WebhookCallCompleted upserts one call event. Replays are idempotent, so
// the provider may deliver the same event any number of times.
func (h Handlers) WebhookCallCompleted(c *gin.Context) {
	raw, ok := bindRawJSON(c)
	if !ok {
		return
	}
	if _, err := h.Ingest.IngestWebhook(c.Request.Context(), raw); err != nil {
		if errors.Is(err, normalize.ErrMissingIdentifier) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "payload has no call identifier"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "upsert failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// WebhookCallUpdated applies a duration/status update to an existing
// record. It never creates one: unknown ids get a 404.
func (h Handlers) WebhookCallUpdated(c *gin.Context) {
	raw, ok := bindRawJSON(c)
	if !ok {
		return
	}
	res, err := h.Ingest.ApplyCallUpdate(c.Request.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, normalize.ErrMissingIdentifier):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "payload has no call identifier"})
		case errors.Is(err, store.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Bulk ingestion ---

func (h Handlers) IngestCalls(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	res, err := h.Ingest.BulkIngest(c.Request.Context(), body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Aggregates ---

func (h Handlers) AnswerRate(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.AnswerRate(c.Request.Context(), queryOpts(c))
	})
}

func (h Handlers) Conversion(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.Conversion(c.Request.Context(), queryOpts(c))
	})
}

func (h Handlers) AgentScorecard(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.AgentScorecard(c.Request.Context(), queryOpts(c))
	})
}

func (h Handlers) SourceConversion(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.Breakdown(c.Request.Context(), "source", queryOpts(c))
	})
}

func (h Handlers) CompanyBreakdown(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.Breakdown(c.Request.Context(), "company", queryOpts(c))
	})
}

func (h Handlers) DurationBuckets(c *gin.Context) {
	full := boolQuery(c, "full")
	h.cached(c, func() (any, error) {
		return h.Metrics.DurationBuckets(c.Request.Context(), queryOpts(c), full)
	})
}

func (h Handlers) TimeBuckets(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.TimeBuckets(c.Request.Context(), queryOpts(c))
	})
}

func (h Handlers) Heatmap(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.Heatmap(c.Request.Context(), queryOpts(c))
	})
}

func (h Handlers) SpeedToAnswer(c *gin.Context) {
	sla := intQuery(c, "sla", 30)
	h.cached(c, func() (any, error) {
		return h.Metrics.SpeedToAnswer(c.Request.Context(), queryOpts(c), sla)
	})
}

func (h Handlers) AgentOccupancy(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.AgentOccupancy(c.Request.Context(), queryOpts(c))
	})
}

func (h Handlers) NewVsReturning(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.NewVsReturning(c.Request.Context(), queryOpts(c))
	})
}

func (h Handlers) Missed(c *gin.Context) {
	critical := intQuery(c, "critical_ring", 20)
	h.cached(c, func() (any, error) {
		return h.Metrics.Missed(c.Request.Context(), queryOpts(c), critical)
	})
}

func (h Handlers) DataQuality(c *gin.Context) {
	h.cached(c, func() (any, error) {
		return h.Metrics.DataQuality(c.Request.Context(), queryOpts(c))
	})
}

func (h Handlers) TagSummary(c *gin.Context) {
	limit := intQuery(c, "limit", 25)
	h.cached(c, func() (any, error) {
		return h.Metrics.TagSummary(c.Request.Context(), queryOpts(c), limit)
	})
}

// --- Reports ---

func (h Handlers) AvgCallTimeLastWeek(c *gin.Context) {
	out, err := h.Metrics.AvgCallTime(c.Request.Context(), strings.TrimSpace(c.Query("only_agent")))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Admin ---

// AdminRefreshCalls pulls the trailing window from the provider. The
// Redis lock rejects a refresh while another is in flight; without Redis
// the guard is skipped.
func (h Handlers) AdminRefreshCalls(c *gin.Context) {
	ctx := c.Request.Context()

	if h.RDB != nil {
		token, err := utils.AcquireLock(ctx, h.RDB, refreshLockKey, refreshLockTTL)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "refresh lock unavailable"})
			return
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "refresh already in progress"})
			return
		}
		defer func() { _ = utils.ReleaseLock(ctx, h.RDB, refreshLockKey, token) }()
	}

	days := intQuery(c, "days", 14)
	today := time.Now().UTC()
	res, err := h.Ingest.RefreshFromProvider(ctx, calltrack.ListOptions{
		StartDate: today.AddDate(0, 0, -days).Format("2006-01-02"),
		EndDate:   today.Format("2006-01-02"),
		CompanyID: strings.TrimSpace(c.Query("company_id")),
		// Cursor pagination keeps long windows stable while new calls
		// keep arriving mid-fetch.
		Relative: true,
	})
	if err != nil {
		var upstream *calltrack.UpstreamError
		switch {
		case errors.Is(err, ingest.ErrProviderNotConfigured):
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "provider credentials not configured"})
		case errors.As(err, &upstream):
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "upstream error", "upstream_status": upstream.StatusCode})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) AdminQuickRepair(c *gin.Context) {
	res, err := h.Ingest.QuickRepair(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "repair failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) AdminPreviewAgent(c *gin.Context) {
	tagAgent := strings.TrimSpace(c.Query("tag_agent"))
	if tagAgent == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tag_agent required"})
		return
	}
	out, err := h.Metrics.AgentPreview(c.Request.Context(), tagAgent, intQuery(c, "days", 14))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "preview failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Debug ---

func (h Handlers) DebugDBStats(c *gin.Context) {
	stats, err := h.Repo.Stats(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h Handlers) DebugDates(c *gin.Context) {
	rows, err := h.Repo.DailyCounts(c.Request.Context(), intQuery(c, "limit", 30))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "daily counts failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": rows})
}

// --- helpers ---

// cached serves an aggregate through the response cache, keyed on the
// full request URI so every query-parameter combination caches
// independently.
func (h Handlers) cached(c *gin.Context, compute func() (any, error)) {
	key := "calltrack:resp:" + c.Request.URL.RequestURI()
	if body, ok := h.Cache.Get(c.Request.Context(), key); ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
		return
	}

	out, err := compute()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "aggregate failed"})
		return
	}
	h.Cache.Set(c.Request.Context(), key, out)
	c.JSON(http.StatusOK, out)
}

func queryOpts(c *gin.Context) metrics.QueryOptions {
	return metrics.QueryOptions{
		Days:      intQuery(c, "days", 0),
		OnlyAgent: strings.TrimSpace(c.Query("only_agent")),
		OnlyTags:  csvQuery(c, "only_tags"),
	}
}

func bindRawJSON(c *gin.Context) (map[string]any, bool) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return nil, false
	}
	return raw, true
}

func intQuery(c *gin.Context, key string, def int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolQuery(c *gin.Context, key string) bool {
	switch strings.ToLower(strings.TrimSpace(c.Query(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func csvQuery(c *gin.Context, key string) []string {
	var out []string
	for _, part := range strings.Split(c.Query(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
