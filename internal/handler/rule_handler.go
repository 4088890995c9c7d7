package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/pkg/response"
)

type ruleService interface {
	List(ctx context.Context, filter models.RuleFilter) ([]models.Rule, error)
	Get(ctx context.Context, id string) (*models.Rule, error)
	Create(ctx context.Context, req dto.CreateRuleRequest) (*models.Rule, error)
	Update(ctx context.Context, id string, req dto.UpdateRuleRequest) (*models.Rule, error)
}

// RuleHandler exposes the rule catalog.
type RuleHandler struct {
	rules ruleService
}

// NewRuleHandler constructs RuleHandler.
func NewRuleHandler(rules ruleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// List godoc
// @Summary List rules
// @Tags Rules
// @Produce json
// @Param category query string false "LIGHT, MEDIUM or SEVERE"
// @Param active query bool false "Only active rules"
// @Success 200 {object} response.Envelope
// @Router /rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	var filter models.RuleFilter
	if category := c.Query("category"); category != "" {
		value := models.RuleCategory(category)
		filter.Category = &value
	}
	filter.ActiveOnly = c.Query("active") == "true"

	rules, err := h.rules.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rules, nil)
}

// Get godoc
// @Summary Get rule
// @Tags Rules
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /rules/{id} [get]
func (h *RuleHandler) Get(c *gin.Context) {
	rule, err := h.rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}

// Create godoc
// @Summary Create rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param payload body dto.CreateRuleRequest true "Rule payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /rules [post]
func (h *RuleHandler) Create(c *gin.Context) {
	var req dto.CreateRuleRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	rule, err := h.rules.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rule)
}

// Update godoc
// @Summary Update rule
// @Description Points and category cannot change once a violation references the rule.
// @Tags Rules
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param payload body dto.UpdateRuleRequest true "Rule payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /rules/{id} [put]
func (h *RuleHandler) Update(c *gin.Context) {
	var req dto.UpdateRuleRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	rule, err := h.rules.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rule, nil)
}
