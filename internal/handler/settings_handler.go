package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/pkg/response"
)

type settingsService interface {
	GetThresholds(ctx context.Context) (*models.ThresholdSettings, error)
	UpdateThresholds(ctx context.Context, req dto.UpdateThresholdsRequest, actor *models.JWTClaims) (*dto.ThresholdsUpdateResult, error)
}

// SettingsHandler exposes the status thresholds.
type SettingsHandler struct {
	settings settingsService
}

// NewSettingsHandler constructs SettingsHandler.
func NewSettingsHandler(settings settingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetThresholds godoc
// @Summary Get status thresholds
// @Tags Settings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /settings/thresholds [get]
func (h *SettingsHandler) GetThresholds(c *gin.Context) {
	thresholds, err := h.settings.GetThresholds(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thresholds, nil)
}

// UpdateThresholds godoc
// @Summary Update status thresholds
// @Description Stores new thresholds and re-evaluates every student. expected_version must match the stored version.
// @Tags Settings
// @Accept json
// @Produce json
// @Param payload body dto.UpdateThresholdsRequest true "Thresholds"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /settings/thresholds [put]
func (h *SettingsHandler) UpdateThresholds(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.UpdateThresholdsRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	result, err := h.settings.UpdateThresholds(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
