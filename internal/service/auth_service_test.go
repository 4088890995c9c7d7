package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-discipline-api/internal/models"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

type mockAuthRepo struct {
	user             *models.User
	refreshTokens    map[string]*models.RefreshToken
	lastLoginUpdated bool
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.user == nil || m.user.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.user == nil || m.user.ID != id {
		return nil, sql.ErrNoRows
	}
	return m.user, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.refreshTokens == nil {
		m.refreshTokens = make(map[string]*models.RefreshToken)
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func newAuthFixture(t *testing.T, active bool) (*mockAuthRepo, *memAudit, *AuthService) {
	password, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &mockAuthRepo{user: &models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(password), Active: active, Role: models.RoleInstructor}}
	audit := &memAudit{}
	svc := NewAuthService(repo, audit, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "sma-discipline-api",
	})
	return repo, audit, svc
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo, audit, svc := newAuthFixture(t, true)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, models.RoleInstructor, res.User.Role)
	assert.True(t, repo.lastLoginUpdated)
	assert.Len(t, audit.rows, 1)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleInstructor, claims.Role)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	_, _, svc := newAuthFixture(t, true)
	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong-password"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	_, _, inactive := newAuthFixture(t, false)
	_, err = inactive.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshTokenRotates(t *testing.T) {
	repo, _, svc := newAuthFixture(t, true)
	repo.refreshTokens = map[string]*models.RefreshToken{
		"token": {ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(time.Hour)},
	}

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["token"].Revoked)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	_, _, svc := newAuthFixture(t, true)
	other := NewAuthService(&mockAuthRepo{}, nil, nil, zap.NewNop(), AuthConfig{AccessTokenSecret: "other", AccessTokenExpiry: time.Hour})
	token, err := other.generateAccessToken(&models.User{ID: "u1", Role: models.RoleAdmin})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
