package questions

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnsphere/backend/internal/conferences"
	"github.com/learnsphere/backend/internal/middleware"
	"github.com/learnsphere/backend/internal/models"
	"github.com/learnsphere/backend/pkg/response"
)

// OptionRequest is one answer choice in a question create request.
type OptionRequest struct {
	Key  string `json:"key" binding:"required"`
	Text string `json:"text" binding:"required"`
}

// CreateRequest is the body for POST /conferences/:id/questions.
type CreateRequest struct {
	QuestionText  string          `json:"question_text" binding:"required"`
	Options       []OptionRequest `json:"options" binding:"required,min=2"`
	CorrectOption string          `json:"correct_option" binding:"required"`
}

// Handler handles conference-question HTTP endpoints.
type Handler struct {
	repo     *Repository
	confRepo *conferences.Repository
	logger   *zap.Logger
}

// NewHandler creates a questions handler.
func NewHandler(repo *Repository, confRepo *conferences.Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, confRepo: confRepo, logger: logger}
}

// requireHost loads the conference and verifies the caller hosts it.
func (h *Handler) requireHost(c *gin.Context) (uuid.UUID, bool) {
	conferenceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid conference id")
		return uuid.Nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	conf, err := h.confRepo.FindConferenceByID(c.Request.Context(), conferenceID)
	if err != nil {
		response.Internal(c, "failed to load conference")
		return uuid.Nil, false
	}
	if conf == nil {
		response.NotFound(c, "conference not found")
		return uuid.Nil, false
	}
	if conf.HostID != userID {
		response.Forbidden(c, "only the host can manage questions")
		return uuid.Nil, false
	}
	return conferenceID, true
}

// Create handles POST /conferences/:id/questions (host only).
func (h *Handler) Create(c *gin.Context) {
	conferenceID, ok := h.requireHost(c)
	if !ok {
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	options := make([]models.QuestionOption, 0, len(req.Options))
	seen := make(map[string]bool, len(req.Options))
	for _, o := range req.Options {
		if seen[o.Key] {
			response.BadRequest(c, "duplicate option key: "+o.Key)
			return
		}
		seen[o.Key] = true
		options = append(options, models.QuestionOption{Key: o.Key, Text: o.Text})
	}
	if !seen[req.CorrectOption] {
		response.BadRequest(c, "correct_option must be one of the option keys")
		return
	}

	q := &models.ConferenceQuestion{
		ConferenceID:  conferenceID,
		QuestionText:  req.QuestionText,
		Options:       options,
		CorrectOption: req.CorrectOption,
	}
	if err := h.repo.Create(c.Request.Context(), q); err != nil {
		h.logger.Error("create question failed", zap.Error(err))
		response.Internal(c, "failed to create question")
		return
	}
	response.Created(c, q)
}

// ListByConference handles GET /conferences/:id/questions (host only).
func (h *Handler) ListByConference(c *gin.Context) {
	conferenceID, ok := h.requireHost(c)
	if !ok {
		return
	}
	list, err := h.repo.ListByConference(c.Request.Context(), conferenceID)
	if err != nil {
		response.Internal(c, "failed to list questions")
		return
	}
	response.OK(c, list)
}
