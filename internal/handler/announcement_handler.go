package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/pkg/response"
)

type announcementService interface {
	Create(ctx context.Context, req dto.CreateAnnouncementRequest, actor *models.JWTClaims) (*dto.AnnouncementResult, error)
	Preview(ctx context.Context, filter models.AudienceFilter) (*dto.AudiencePreview, error)
	Get(ctx context.Context, id string) (*models.Announcement, error)
	List(ctx context.Context, kind *models.AnnouncementKind, page, pageSize int) ([]models.Announcement, *models.Pagination, error)
}

// AnnouncementHandler exposes announcements and events.
type AnnouncementHandler struct {
	announcements announcementService
}

// NewAnnouncementHandler constructs AnnouncementHandler.
func NewAnnouncementHandler(announcements announcementService) *AnnouncementHandler {
	return &AnnouncementHandler{announcements: announcements}
}

// Create godoc
// @Summary Publish announcement or event
// @Description Notifies every student matched by the audience filter.
// @Tags Announcements
// @Accept json
// @Produce json
// @Param payload body dto.CreateAnnouncementRequest true "Announcement"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /announcements [post]
func (h *AnnouncementHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateAnnouncementRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	result, err := h.announcements.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Preview godoc
// @Summary Preview an audience
// @Tags Announcements
// @Accept json
// @Produce json
// @Param payload body models.AudienceFilter true "Audience filter"
// @Success 200 {object} response.Envelope
// @Router /announcements/preview [post]
func (h *AnnouncementHandler) Preview(c *gin.Context) {
	var filter models.AudienceFilter
	if !bindJSON(c, &filter, "invalid audience") {
		return
	}
	preview, err := h.announcements.Preview(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Get godoc
// @Summary Get announcement
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id} [get]
func (h *AnnouncementHandler) Get(c *gin.Context) {
	announcement, err := h.announcements.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, announcement, nil)
}

// List godoc
// @Summary List announcements
// @Tags Announcements
// @Produce json
// @Param kind query string false "ANNOUNCEMENT or EVENT"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /announcements [get]
func (h *AnnouncementHandler) List(c *gin.Context) {
	var kind *models.AnnouncementKind
	if raw := c.Query("kind"); raw != "" {
		value := models.AnnouncementKind(raw)
		kind = &value
	}
	page, size := pageParams(c)
	items, pagination, err := h.announcements.List(c.Request.Context(), kind, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}
