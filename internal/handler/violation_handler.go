package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
	"github.com/noah-isme/sma-discipline-api/pkg/response"
)

type violationService interface {
	RecordViolation(ctx context.Context, req dto.RecordViolationRequest, actor *models.JWTClaims) (*dto.ViolationOutcome, error)
	ReverseViolation(ctx context.Context, violationID string, actor *models.JWTClaims) (*dto.ViolationOutcome, error)
	Get(ctx context.Context, id string) (*models.Violation, error)
	List(ctx context.Context, filter models.ViolationFilter, actor *models.JWTClaims) ([]models.Violation, *models.Pagination, error)
}

// ViolationHandler exposes the violation ledger.
type ViolationHandler struct {
	violations violationService
}

// NewViolationHandler constructs ViolationHandler.
func NewViolationHandler(violations violationService) *ViolationHandler {
	return &ViolationHandler{violations: violations}
}

// Record godoc
// @Summary Record violation
// @Description Appends a violation, adds the rule's points and re-evaluates the student's status.
// @Tags Violations
// @Accept json
// @Produce json
// @Param payload body dto.RecordViolationRequest true "Violation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /violations [post]
func (h *ViolationHandler) Record(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RecordViolationRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	outcome, err := h.violations.RecordViolation(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, outcome)
}

// Reverse godoc
// @Summary Reverse violation
// @Tags Violations
// @Produce json
// @Param id path string true "Violation ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /violations/{id}/reverse [post]
func (h *ViolationHandler) Reverse(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	outcome, err := h.violations.ReverseViolation(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Get godoc
// @Summary Get violation
// @Tags Violations
// @Produce json
// @Param id path string true "Violation ID"
// @Success 200 {object} response.Envelope
// @Router /violations/{id} [get]
func (h *ViolationHandler) Get(c *gin.Context) {
	violation, err := h.violations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, violation, nil)
}

// List godoc
// @Summary List violations
// @Description Students only see their own violations.
// @Tags Violations
// @Produce json
// @Param studentId query string false "Student"
// @Param ruleId query string false "Rule"
// @Param includeReversed query bool false "Include reversed violations"
// @Param from query string false "Occurred on or after (YYYY-MM-DD)"
// @Param to query string false "Occurred on or before (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /violations [get]
func (h *ViolationHandler) List(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	filter := models.ViolationFilter{
		StudentID:       c.Query("studentId"),
		RuleID:          c.Query("ruleId"),
		IncludeReversed: c.Query("includeReversed") == "true",
	}
	var err error
	if filter.DateFrom, err = parseDateQuery(c, "from"); err != nil {
		response.Error(c, err)
		return
	}
	if filter.DateTo, err = parseDateQuery(c, "to"); err != nil {
		response.Error(c, err)
		return
	}
	filter.Page, filter.PageSize = pageParams(c)

	items, pagination, err := h.violations.List(c.Request.Context(), filter, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

func parseDateQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid "+key+" date")
	}
	return &parsed, nil
}
