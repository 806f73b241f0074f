// Package handler exposes the attendance operations over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pointage/internal/auth"
	"pointage/internal/model"
	"pointage/internal/queue"
	"pointage/internal/reconcile"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type Handler struct {
	orch   *reconcile.Orchestrator
	queue  queue.Queue // nil disables ?async=true
	checks map[string]HealthCheck
	log    *slog.Logger
}

func New(orch *reconcile.Orchestrator, q queue.Queue, checks map[string]HealthCheck, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{orch: orch, queue: q, checks: checks, log: logger}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	code := http.StatusOK
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, body)
}

// ---------- QR ----------

func (h *Handler) GenerateToken(c *gin.Context) {
	actor, ref, ok := h.scope(c)
	if !ok {
		return
	}
	q, err := h.orch.GenerateToken(c.Request.Context(), actor, ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         q.ID,
		"token":      q.Token,
		"session":    q.Session.String(),
		"expires_at": q.ExpiresAt,
	})
}

type scanRequest struct {
	Token     string            `json:"token" binding:"required"`
	StudentID string            `json:"student_id"`
	Meta      map[string]string `json:"meta"`
}

// Scan answers 200 for every tagged outcome, including invalid tokens.
func (h *Handler) Scan(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}
	if req.Meta == nil {
		req.Meta = map[string]string{}
	}
	if _, set := req.Meta["ip"]; !set {
		req.Meta["ip"] = c.ClientIP()
	}
	if ua := c.Request.UserAgent(); ua != "" {
		req.Meta["user_agent"] = ua
	}
	out, err := h.orch.ScanToken(c.Request.Context(), actor, req.Token, req.StudentID, req.Meta)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{
		"success": out.Success(),
		"status":  out.Status,
		"message": out.Message,
	}
	if err := out.Err(); err != nil {
		body["kind"] = reconcile.ErrorKind(err)
	}
	if out.Record != nil {
		body["record"] = out.Record
	}
	c.JSON(http.StatusOK, body)
}

// ---------- Attendance ----------

func (h *Handler) ListAttendance(c *gin.Context) {
	actor, ref, ok := h.scope(c)
	if !ok {
		return
	}
	views, err := h.orch.FetchAttendanceForSession(c.Request.Context(), actor, ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": ref.String(), "attendance": views})
}

func (h *Handler) ListScans(c *gin.Context) {
	actor, ref, ok := h.scope(c)
	if !ok {
		return
	}
	scans, err := h.orch.FetchScansForSession(c.Request.Context(), actor, ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	if scans == nil {
		scans = []model.QrCodeScan{}
	}
	c.JSON(http.StatusOK, gin.H{"session": ref.String(), "scans": scans})
}

type reconcileRequest struct {
	Roster []model.RosterEntry `json:"roster" binding:"omitempty,dive"`
}

// Reconcile runs the punch reconciliation, or queues it with ?async=true.
func (h *Handler) Reconcile(c *gin.Context) {
	actor, ref, ok := h.scope(c)
	if !ok {
		return
	}
	var req reconcileRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		// An empty body means the directory roster.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
			return
		}
	}
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if h.queue == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue not configured"})
			return
		}
		if err := h.orch.Enqueue(c.Request.Context(), h.queue, actor, ref); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"session": ref.String(), "queued": true})
		return
	}
	rep, err := h.orch.ReconcileFromExternalSource(c.Request.Context(), actor, ref, req.Roster)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

type statusRequest struct {
	Status        model.Status `json:"status" binding:"required,oneof=present late absent left_early excused"`
	Justification *string      `json:"justification"`
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	actor, ref, ok := h.scope(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}
	rec, err := h.orch.UpdateAttendanceStatus(c.Request.Context(), actor, ref, reconcile.StatusUpdate{
		StudentID:     c.Param("student"),
		Status:        req.Status,
		Justification: req.Justification,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type bulkRequest struct {
	Updates []reconcile.StatusUpdate `json:"updates" binding:"required,min=1,dive"`
}

// BulkUpdate validates shape only; per-entry failures land in the report.
func (h *Handler) BulkUpdate(c *gin.Context) {
	actor, ref, ok := h.scope(c)
	if !ok {
		return
	}
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}
	rep, err := h.orch.BulkUpdateAttendanceStatus(c.Request.Context(), actor, ref, req.Updates)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) MarkAll(c *gin.Context) {
	actor, ref, ok := h.scope(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}
	rep, err := h.orch.MarkAll(c.Request.Context(), actor, ref, req.Status, req.Justification)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ---------- helpers ----------

func (h *Handler) actor(c *gin.Context) (auth.Actor, bool) {
	a, ok := auth.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	}
	return a, ok
}

func (h *Handler) scope(c *gin.Context) (auth.Actor, model.SessionRef, bool) {
	a, ok := h.actor(c)
	if !ok {
		return auth.Actor{}, model.SessionRef{}, false
	}
	ref := model.SessionRef{Kind: model.SessionKind(c.Param("kind")), ID: c.Param("id")}
	if err := ref.Validate(); err != nil {
		h.fail(c, err)
		return auth.Actor{}, model.SessionRef{}, false
	}
	return a, ref, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	body := gin.H{"error": err.Error(), "kind": reconcile.ErrorKind(err)}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	switch {
	case code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		body["error"] = "internal error"
	case code == http.StatusServiceUnavailable:
		h.log.Warn("dependency unavailable", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(code, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflictOnWrite):
		return http.StatusConflict
	case errors.Is(err, model.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
