package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"engiero/internal/auth"
	"engiero/internal/entities"
	"engiero/internal/entry"
	"engiero/internal/storage"
)

const refreshTimeout = 2 * time.Minute

// EntriesHandler serves the state of configured entries
type EntriesHandler struct {
	registry *entry.Registry
	storage  storage.Storage
	logger   *slog.Logger
}

// NewEntriesHandler creates a new entries handler
func NewEntriesHandler(registry *entry.Registry, storage storage.Storage, logger *slog.Logger) *EntriesHandler {
	return &EntriesHandler{
		registry: registry,
		storage:  storage,
		logger:   logger,
	}
}

func summary(e *entry.Entry) gin.H {
	p := e.Poller()
	h := gin.H{
		"id":                   e.ID(),
		"name":                 e.Name(),
		"auth_mode":            e.Config().AuthMode,
		"auth_state":           string(e.Auth().State()),
		"available":            p.LastUpdateSuccess(),
		"consecutive_failures": p.ConsecutiveFailures(),
		"interval_seconds":     int(p.Interval().Seconds()),
		"last_attempt":         nil,
		"last_error":           nil,
		"fetched_at":           nil,
	}
	if t := p.LastAttempt(); !t.IsZero() {
		h["last_attempt"] = t.Format(time.RFC3339)
	}
	if err := p.LastError(); err != nil {
		h["last_error"] = err.Error()
	}
	if data := p.Data(); data != nil {
		h["fetched_at"] = data.FetchedAt.Format(time.RFC3339)
	}
	return h
}

// lookup resolves :id or writes a 404
func (h *EntriesHandler) lookup(c *gin.Context) (*entry.Entry, bool) {
	e, err := h.registry.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Entry not found",
			"code":  "ENTRY_NOT_FOUND",
		})
		return nil, false
	}
	return e, true
}

// ListEntries returns all entries
// GET /entries
func (h *EntriesHandler) ListEntries(c *gin.Context) {
	entries := h.registry.List()
	response := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		response = append(response, summary(e))
	}
	c.JSON(http.StatusOK, response)
}

// GetEntry returns a single entry
// GET /entries/:id
func (h *EntriesHandler) GetEntry(c *gin.Context) {
	e, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summary(e))
}

// GetSnapshot returns the last good snapshot with the token redacted
// GET /entries/:id/snapshot
func (h *EntriesHandler) GetSnapshot(c *gin.Context) {
	e, ok := h.lookup(c)
	if !ok {
		return
	}

	data := e.Poller().Data()
	if data == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No data yet",
			"code":  "NO_DATA",
		})
		return
	}
	c.JSON(http.StatusOK, data.Redacted())
}

// GetSensors returns the rendered sensors of an entry
// GET /entries/:id/sensors
func (h *EntriesHandler) GetSensors(c *gin.Context) {
	e, ok := h.lookup(c)
	if !ok {
		return
	}

	sensors := e.Sensors()
	response := make([]entities.State, 0, len(sensors))
	for _, s := range sensors {
		response = append(response, s.State())
	}
	c.JSON(http.StatusOK, response)
}

// GetDiagnostics returns the redacted configuration and state
// GET /entries/:id/diagnostics
func (h *EntriesHandler) GetDiagnostics(c *gin.Context) {
	e, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, e.Diagnostics())
}

// ListCycles returns recent refresh cycles
// GET /entries/:id/cycles?limit=N
func (h *EntriesHandler) ListCycles(c *gin.Context) {
	e, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.storage == nil {
		c.JSON(http.StatusOK, []gin.H{})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be between 1 and 500",
				"code":  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}

	runs, err := h.storage.ListCycles(c.Request.Context(), e.ID(), limit)
	if err != nil {
		h.logger.Error("Failed to list cycles",
			"component", "api",
			"entry_id", e.ID(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve cycles",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	response := make([]gin.H, 0, len(runs))
	for _, run := range runs {
		response = append(response, gin.H{
			"id":             run.ID,
			"started_at":     run.StartedAt.Format(time.RFC3339),
			"duration_ms":    run.Duration.Milliseconds(),
			"success":        run.Success,
			"error":          run.Error,
			"section_errors": run.SectionErrors,
		})
	}
	c.JSON(http.StatusOK, response)
}

// Refresh runs a cycle now, or waits for the running one
// POST /entries/:id/refresh
func (h *EntriesHandler) Refresh(c *gin.Context) {
	e, ok := h.lookup(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()

	err := e.Refresh(ctx)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, summary(e))
	case errors.Is(err, auth.ErrReauthRequired):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Re-authentication required",
			"code":  "REAUTH_REQUIRED",
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error": "Refresh did not finish in time",
			"code":  "REFRESH_TIMEOUT",
		})
	default:
		h.logger.Warn("Manual refresh failed",
			"component", "api",
			"entry_id", e.ID(),
			"error", err,
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
			"code":  "REFRESH_FAILED",
		})
	}
}
