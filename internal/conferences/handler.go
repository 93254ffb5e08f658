package conferences

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnsphere/backend/internal/middleware"
	"github.com/learnsphere/backend/internal/models"
	"github.com/learnsphere/backend/pkg/response"
)

// StateInvalidator drops the cached conference projection after a change.
// Implemented by the polling conference tracker.
type StateInvalidator interface {
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// CreateRequest is the body for POST /conferences.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// UpdateStatusRequest is the body for PATCH /conferences/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=draft active ended"`
}

// Handler handles conference HTTP endpoints.
type Handler struct {
	repo        *Repository
	invalidator StateInvalidator
	logger      *zap.Logger
}

// NewHandler creates a conferences handler.
func NewHandler(repo *Repository, invalidator StateInvalidator, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, invalidator: invalidator, logger: logger}
}

// Create handles POST /conferences (educator/admin). The creator is the host.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	conf := &models.Conference{
		HostID:      userID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := h.repo.Create(c.Request.Context(), conf); err != nil {
		h.logger.Error("create conference failed", zap.Error(err))
		response.Internal(c, "failed to create conference")
		return
	}
	response.Created(c, conf)
}

// GetByID handles GET /conferences/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid conference id")
		return
	}
	conf, err := h.repo.FindConferenceByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load conference")
		return
	}
	if conf == nil {
		response.NotFound(c, "conference not found")
		return
	}
	response.OK(c, conf)
}

// List handles GET /conferences. ?mine=true restricts to the caller's own.
func (h *Handler) List(c *gin.Context) {
	var hostID *uuid.UUID
	if c.Query("mine") == "true" {
		id := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		hostID = &id
	}
	list, err := h.repo.List(c.Request.Context(), hostID)
	if err != nil {
		response.Internal(c, "failed to list conferences")
		return
	}
	response.OK(c, list)
}

// validTransitions are the allowed conference status changes.
var validTransitions = map[models.ConferenceStatus][]models.ConferenceStatus{
	models.ConferenceDraft:  {models.ConferenceActive, models.ConferenceEnded},
	models.ConferenceActive: {models.ConferenceEnded},
}

// UpdateStatus handles PATCH /conferences/:id/status (host only).
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid conference id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: status must be draft, active or ended")
		return
	}
	target := models.ConferenceStatus(req.Status)

	conf, err := h.repo.FindConferenceByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load conference")
		return
	}
	if conf == nil {
		response.NotFound(c, "conference not found")
		return
	}
	if conf.HostID != userID {
		response.Forbidden(c, "only the host can change conference status")
		return
	}

	allowed := false
	for _, next := range validTransitions[conf.Status] {
		if next == target {
			allowed = true
			break
		}
	}
	if !allowed {
		response.Conflict(c, "cannot transition from "+string(conf.Status)+" to "+string(target))
		return
	}

	if err := h.repo.UpdateStatus(c.Request.Context(), id, target); err != nil {
		h.logger.Error("update conference status failed", zap.Error(err))
		response.Internal(c, "failed to update status")
		return
	}
	if h.invalidator != nil {
		_ = h.invalidator.Invalidate(c.Request.Context(), id)
	}
	response.OK(c, gin.H{"id": id, "status": target})
}
