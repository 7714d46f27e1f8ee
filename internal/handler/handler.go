package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crattend/internal/ledger"
	"crattend/internal/model"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type Handler struct {
	svc    *ledger.Service
	checks map[string]HealthCheck
}

func New(svc *ledger.Service, checks map[string]HealthCheck) *Handler {
	return &Handler{svc: svc, checks: checks}
}

// Register mounts the attendance API on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	{
		v1.GET("/roster", h.GetRoster)
		v1.POST("/rosters", h.PushRoster)

		v1.POST("/submissions", h.Submit)
		v1.GET("/submissions", h.ListSubmissions)
		v1.GET("/submissions/:id", h.GetSubmission)
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		healthy := check(c.Request.Context())
		body[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, body)
}

// ---------- Rosters ----------

// GetRoster returns the latest roster, optionally narrowed by course_id and section.
func (h *Handler) GetRoster(c *gin.Context) {
	var courseID int64
	if v := c.Query("course_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "course_id must be an integer"})
			return
		}
		courseID = parsed
	}

	r, err := h.svc.Roster(c.Request.Context(), courseID, c.Query("section"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) PushRoster(c *gin.Context) {
	var req model.Roster
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.svc.PushRoster(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// ---------- Submissions ----------

// Submit accepts a locked session record. Resubmitting the same
// course/section/date replaces the stored copy.
func (h *Handler) Submit(c *gin.Context) {
	var req model.Submission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := h.svc.Receive(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"receipt_id": entry.ReceiptID,
		"id":         entry.ID,
		"status":     entry.Status,
	})
}

func (h *Handler) GetSubmission(c *gin.Context) {
	entry, err := h.svc.Submission(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) ListSubmissions(c *gin.Context) {
	f := ledger.Filter{
		Section: c.Query("section"),
		Status:  c.Query("status"),
	}
	if v := c.Query("course_id"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.CourseID = parsed
		}
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}

	entries, err := h.svc.Submissions(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"submissions": entries})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
