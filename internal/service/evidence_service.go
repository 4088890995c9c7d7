package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
	"github.com/noah-isme/sma-discipline-api/pkg/storage"
)

type evidenceFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type evidenceSigner interface {
	Generate(subject, relPath string) (string, time.Time, error)
	Parse(token string) (*storage.SignedToken, error)
}

// EvidenceUpload carries an uploaded evidence file.
type EvidenceUpload struct {
	Filename string
	Data     []byte
}

// EvidenceDownload is an opened evidence file ready to stream.
type EvidenceDownload struct {
	File     *os.File
	Filename string
	MimeType string
}

// EvidenceConfig holds evidence validation parameters.
type EvidenceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	APIPrefix    string
}

// EvidenceService stores violation evidence and hands out signed download URLs. The URLs are what
// violations keep in their evidence references.
type EvidenceService struct {
	storage evidenceFileStorage
	signer  evidenceSigner
	logger  *zap.Logger
	cfg     EvidenceConfig
	mimeSet map[string]struct{}
}

// NewEvidenceService constructs the service with defaults.
func NewEvidenceService(fileStorage evidenceFileStorage, signer evidenceSigner, logger *zap.Logger, cfg EvidenceConfig) *EvidenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 5 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"image/jpeg", "image/png", "application/pdf"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	return &EvidenceService{storage: fileStorage, signer: signer, logger: logger, cfg: cfg, mimeSet: mimeSet}
}

// Upload validates and stores a file, returning its signed URL.
func (s *EvidenceService) Upload(ctx context.Context, upload EvidenceUpload, actor *models.JWTClaims) (*dto.EvidenceUploadResult, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor")
	}
	size := int64(len(upload.Data))
	if size == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	mimeType := http.DetectContentType(upload.Data)
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	if _, allowed := s.mimeSet[strings.ToLower(mimeType)]; !allowed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
	}

	name := fmt.Sprintf("%s/%s%s", time.Now().UTC().Format("2006/01"), uuid.NewString(), evidenceExtension(upload.Filename, mimeType))
	path, err := s.storage.Save(name, upload.Data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store evidence")
	}
	token, expiresAt, err := s.signer.Generate(actor.UserID, path)
	if err != nil {
		_ = s.storage.Delete(path)
		return nil, appErrors.Internal(err, "failed to sign evidence url")
	}
	s.logger.Info("evidence stored", zap.String("path", path), zap.Int64("size", size), zap.String("actor_id", actor.UserID))
	return &dto.EvidenceUploadResult{
		URL:       fmt.Sprintf("%s/evidence/files?token=%s", strings.TrimRight(s.cfg.APIPrefix, "/"), url.QueryEscape(token)),
		ExpiresAt: expiresAt,
		Size:      size,
		MimeType:  mimeType,
	}, nil
}

// Open validates a signed token and opens the file it names.
func (s *EvidenceService) Open(ctx context.Context, token string) (*EvidenceDownload, error) {
	parsed, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	file, err := s.storage.Open(parsed.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evidence not found")
		}
		return nil, appErrors.Internal(err, "failed to open evidence")
	}
	return &EvidenceDownload{
		File:     file,
		Filename: filepath.Base(parsed.Path),
		MimeType: mimeForExtension(filepath.Ext(parsed.Path)),
	}, nil
}

func evidenceExtension(original, mimeType string) string {
	if ext := strings.ToLower(filepath.Ext(original)); ext != "" && mimeForExtension(ext) == mimeType {
		return ext
	}
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

func mimeForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
