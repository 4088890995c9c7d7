package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/pkg/response"
)

type appealService interface {
	Submit(ctx context.Context, req dto.SubmitAppealRequest, actor *models.JWTClaims) (*models.Appeal, error)
	Decide(ctx context.Context, id string, req dto.DecideAppealRequest, actor *models.JWTClaims) (*dto.AppealDecisionResult, error)
	List(ctx context.Context, filter models.AppealFilter, actor *models.JWTClaims) ([]models.Appeal, error)
}

// AppealHandler exposes violation appeals.
type AppealHandler struct {
	appeals appealService
}

// NewAppealHandler constructs AppealHandler.
func NewAppealHandler(appeals appealService) *AppealHandler {
	return &AppealHandler{appeals: appeals}
}

// Submit godoc
// @Summary Appeal a violation
// @Tags Appeals
// @Accept json
// @Produce json
// @Param payload body dto.SubmitAppealRequest true "Appeal payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appeals [post]
func (h *AppealHandler) Submit(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.SubmitAppealRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	appeal, err := h.appeals.Submit(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, appeal)
}

// Decide godoc
// @Summary Decide an appeal
// @Description Accepting an appeal reverses the violation it contests.
// @Tags Appeals
// @Accept json
// @Produce json
// @Param id path string true "Appeal ID"
// @Param payload body dto.DecideAppealRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appeals/{id}/decision [post]
func (h *AppealHandler) Decide(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.DecideAppealRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	result, err := h.appeals.Decide(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// List godoc
// @Summary List appeals
// @Tags Appeals
// @Produce json
// @Param studentId query string false "Student"
// @Param decision query string false "PENDING, ACCEPTED or REJECTED"
// @Success 200 {object} response.Envelope
// @Router /appeals [get]
func (h *AppealHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	filter := models.AppealFilter{StudentID: c.Query("studentId")}
	if decision := c.Query("decision"); decision != "" {
		value := models.AppealDecision(decision)
		filter.Decision = &value
	}
	appeals, err := h.appeals.List(c.Request.Context(), filter, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appeals, nil)
}
