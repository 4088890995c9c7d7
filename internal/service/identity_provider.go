package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-discipline-api/internal/models"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

// NewIdentity describes an account to create for a student.
type NewIdentity struct {
	Email    string
	Password string
	FullName string
	Role     models.UserRole
}

// IdentityProvider owns the login identities linked to students.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, account NewIdentity) (string, error)
	DeleteIdentity(ctx context.Context, identityRef string) error
}

type identityUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

// AccountIdentityProvider stores identities as rows in the users table.
type AccountIdentityProvider struct {
	users  identityUserRepository
	logger *zap.Logger
}

// NewAccountIdentityProvider constructs an AccountIdentityProvider.
func NewAccountIdentityProvider(users identityUserRepository, logger *zap.Logger) *AccountIdentityProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountIdentityProvider{users: users, logger: logger}
}

// CreateIdentity creates an active account and returns its id.
func (p *AccountIdentityProvider) CreateIdentity(ctx context.Context, account NewIdentity) (string, error) {
	email := strings.ToLower(strings.TrimSpace(account.Email))
	existing, err := p.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", appErrors.External(err, "failed to check identity")
	}
	if existing != nil {
		return "", appErrors.Clone(appErrors.ErrConflict, "email already registered")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(account.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", appErrors.Internal(err, "failed to hash password")
	}
	role := account.Role
	if role == "" {
		role = models.RoleStudent
	}
	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     account.FullName,
		Role:         role,
		Active:       true,
	}
	if err := p.users.Create(ctx, user); err != nil {
		return "", appErrors.External(err, "failed to create identity")
	}
	p.logger.Info("identity created", zap.String("identity_ref", user.ID))
	return user.ID, nil
}

// DeleteIdentity removes an account and revokes its refresh tokens. A missing account is not an error.
func (p *AccountIdentityProvider) DeleteIdentity(ctx context.Context, identityRef string) error {
	if identityRef == "" {
		return nil
	}
	if err := p.users.Delete(ctx, nil, identityRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.External(err, "failed to delete identity")
	}
	return nil
}
