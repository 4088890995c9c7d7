package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-discipline-api/internal/models"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

type recordingAudit struct {
	rows []models.AuditLog
	err  error
}

func (r *recordingAudit) Create(ctx context.Context, log *models.AuditLog) error {
	r.rows = append(r.rows, *log)
	return r.err
}

type recordingObserver struct {
	paths []string
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	r.paths = append(r.paths, path)
}

func newRouter(claims *models.JWTClaims, middlewares ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chain := append([]gin.HandlerFunc{JWT(stubValidator{claims: claims})}, middlewares...)
	chain = append(chain, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/students/:id", chain...)
	return r
}

func serve(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/students/s1", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRequiresBearerToken(t *testing.T) {
	r := newRouter(&models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})
	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Basic good").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer bad").Code)
	assert.Equal(t, http.StatusOK, serve(r, "Bearer good").Code)
}

func TestRequireRoles(t *testing.T) {
	staff := RequireRoles(models.RoleAdmin, models.RoleInstructor)
	assert.Equal(t, http.StatusOK, serve(newRouter(&models.JWTClaims{UserID: "i1", Role: models.RoleInstructor}, staff), "Bearer good").Code)
	assert.Equal(t, http.StatusForbidden, serve(newRouter(&models.JWTClaims{UserID: "u1", Role: models.RoleStudent}, staff), "Bearer good").Code)
}

func TestAuditRecordsResourceID(t *testing.T) {
	audit := &recordingAudit{}
	r := newRouter(&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, Audit(audit, nil, models.AuditActionStudentDelete, models.AuditResourceStudent))
	require.Equal(t, http.StatusOK, serve(r, "Bearer good").Code)

	require.Len(t, audit.rows, 1)
	row := audit.rows[0]
	assert.Equal(t, models.AuditActionStudentDelete, row.Action)
	require.NotNil(t, row.ResourceID)
	assert.Equal(t, "s1", *row.ResourceID)
	require.NotNil(t, row.UserID)
	assert.Equal(t, "admin-1", *row.UserID)
}

func TestAuditSkipsFailedRequestsAndToleratesWriteErrors(t *testing.T) {
	audit := &recordingAudit{err: errors.New("db down")}
	r := newRouter(&models.JWTClaims{UserID: "u1", Role: models.RoleStudent},
		Audit(audit, nil, models.AuditActionStudentDelete, models.AuditResourceStudent),
		RequireRoles(models.RoleAdmin),
	)
	assert.Equal(t, http.StatusForbidden, serve(r, "Bearer good").Code)
	assert.Empty(t, audit.rows)

	r = newRouter(&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}, Audit(audit, nil, "X", "y"))
	assert.Equal(t, http.StatusOK, serve(r, "Bearer good").Code)
	assert.Len(t, audit.rows, 1)
}

func TestMetricsLabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/rules/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/rules/r1", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, []string{"/rules/:id", "unmatched"}, observer.paths)
}
