// Package httpapi exposes the bot's calling API: join, webhook, health and
// stats. Handlers stay thin: parse/validate input, call internal modules,
// return JSON.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"meetingbot-platform/internal/calls"
	"meetingbot-platform/internal/metrics"
	"meetingbot-platform/internal/orchestrator"
	"meetingbot-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *calls.Registry
	Stats        *metrics.Collector

	// DefaultDisplayName is used when the join request omits displayName.
	DefaultDisplayName string
	// DefaultTenantID is used when the join request omits organizerTenantId.
	DefaultTenantID string

	Now func() time.Time
}

type joinRequest struct {
	JoinURL            string     `json:"joinUrl"`
	DisplayName        string     `json:"displayName"`
	JoinAsGuest        bool       `json:"joinAsGuest"`
	JoinMode           string     `json:"joinMode"`
	MeetingID          string     `json:"meetingId"`
	OrganizerTenantID  string     `json:"organizerTenantId"`
	ScheduledStartUtc  *time.Time `json:"scheduledStartUtc"`
	BotAttendeePresent *bool      `json:"botAttendeePresent"`
}

type joinResponse struct {
	CallID            string `json:"callId,omitempty"`
	Message           string `json:"message"`
	JoinURL           string `json:"joinUrl"`
	JoinMode          string `json:"joinMode"`
	EffectiveTenantID string `json:"effectiveTenantId"`
	MeetingID         string `json:"meetingId,omitempty"`
	Deferred          bool   `json:"deferred"`
}

// Join handles POST /api/calling/join. Immediate joins answer 200 with a
// call id; deferred joins answer 202 with no call id. Classified workflow
// failures map to their fixed status class with {error, errorCode}.
func (h Handlers) Join(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Orchestrator == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "orchestrator not configured"})
		return
	}

	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.JoinURL == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "joinUrl is required"})
		return
	}
	mode, ok := calls.ParseJoinMode(req.JoinMode)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "joinMode must be policy_auto_invite or invite_and_graph_join"})
		return
	}

	// Documented defaults: joinAsGuest=false (zero value),
	// botAttendeePresent=true.
	botPresent := true
	if req.BotAttendeePresent != nil {
		botPresent = *req.BotAttendeePresent
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = h.DefaultDisplayName
	}
	tenantID := req.OrganizerTenantID
	if tenantID == "" {
		tenantID = h.DefaultTenantID
	}
	meetingID := req.MeetingID
	if meetingID == "" {
		meetingID = uuid.NewString()
	}
	var scheduledStart time.Time
	if req.ScheduledStartUtc != nil {
		scheduledStart = req.ScheduledStartUtc.UTC()
	}

	result, err := h.Orchestrator.Join(c.Request.Context(), orchestrator.JoinRequest{
		JoinURL:            req.JoinURL,
		DisplayName:        displayName,
		JoinAsGuest:        req.JoinAsGuest,
		ModeHint:           mode,
		MeetingID:          meetingID,
		TenantID:           tenantID,
		ScheduledStartUtc:  scheduledStart,
		BotAttendeePresent: botPresent,
	})
	if err != nil {
		var wfErr *orchestrator.WorkflowError
		if errors.As(err, &wfErr) {
			log.Warn("join rejected", "error_code", wfErr.Code, "err", err)
			c.AbortWithStatusJSON(wfErr.Code.HTTPStatus(), gin.H{
				"error":     wfErr.Error(),
				"errorCode": wfErr.Code,
			})
			return
		}
		log.Error("join failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusOK
	message := "call joined"
	if result.Deferred {
		status = http.StatusAccepted
		message = "join deferred pending auto-invite"
	}
	c.JSON(status, joinResponse{
		CallID:            result.CallID,
		Message:           message,
		JoinURL:           req.JoinURL,
		JoinMode:          string(result.Mode),
		EffectiveTenantID: result.TenantID,
		MeetingID:         result.MeetingID,
		Deferred:          result.Deferred,
	})
}

// Health handles GET /api/calling/health.
func (h Handlers) Health(c *gin.Context) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	active := 0
	if h.Registry != nil {
		active = h.Registry.Count()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"timestampUtc": now().UTC(),
		"activeCalls":  active,
	})
}

// StatsSnapshot handles GET /api/calling/stats.
func (h Handlers) StatsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.Stats.Snapshot())
}
