package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/internal/service"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
	"github.com/noah-isme/sma-discipline-api/pkg/response"
)

type evidenceService interface {
	Upload(ctx context.Context, upload service.EvidenceUpload, actor *models.JWTClaims) (*dto.EvidenceUploadResult, error)
	Open(ctx context.Context, token string) (*service.EvidenceDownload, error)
}

// EvidenceHandler stores violation evidence and serves it back through signed URLs.
type EvidenceHandler struct {
	evidence evidenceService
	maxBytes int64
}

// NewEvidenceHandler constructs EvidenceHandler. maxBytes caps how much of an upload is read.
func NewEvidenceHandler(evidence evidenceService, maxBytes int64) *EvidenceHandler {
	return &EvidenceHandler{evidence: evidence, maxBytes: maxBytes}
}

// Upload godoc
// @Summary Upload evidence
// @Description Returns a signed URL to reference from a violation's evidence_refs.
// @Tags Evidence
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "JPEG, PNG or PDF"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /evidence [post]
func (h *EvidenceHandler) Upload(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	reader := io.Reader(src)
	if h.maxBytes > 0 {
		// one extra byte lets the service see the file is too large
		reader = io.LimitReader(src, h.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file"))
		return
	}

	result, err := h.evidence.Upload(c.Request.Context(), service.EvidenceUpload{Filename: fileHeader.Filename, Data: data}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download evidence
// @Tags Evidence
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /evidence/files [get]
func (h *EvidenceHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	download, err := h.evidence.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	size := int64(-1)
	if info, statErr := download.File.Stat(); statErr == nil {
		size = info.Size()
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", download.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, size, download.MimeType, download.File, nil)
}
