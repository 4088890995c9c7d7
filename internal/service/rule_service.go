package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	appErrors "github.com/noah-isme/sma-discipline-api/pkg/errors"
)

const (
	ruleCachePattern = "rules:*"
	ruleCacheAll     = "rules:all"
	ruleCachePrefix  = "rules:id:"
)

type ruleRepository interface {
	List(ctx context.Context, filter models.RuleFilter) ([]models.Rule, error)
	FindByID(ctx context.Context, id string) (*models.Rule, error)
	ExistsByCode(ctx context.Context, code, excludeID string) (bool, error)
	IsReferenced(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, rule *models.Rule) error
	Update(ctx context.Context, rule *models.Rule) error
}

// RuleService is the rule catalog. Reads go through the cache when it is enabled.
type RuleService struct {
	repo      ruleRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRuleService constructs a RuleService. cache may be nil.
func NewRuleService(repo ruleRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *RuleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RuleService{repo: repo, cache: cache, validator: validate, logger: logger}
	_ = svc.validator.RegisterValidation("rule_category", func(fl validator.FieldLevel) bool {
		return models.RuleCategory(fl.Field().String()).Valid()
	})
	return svc
}

// Lookup returns an active rule. Unknown and inactive rules are NOT_FOUND. Lookup always reads the
// repository: violations snapshot the rule's points, and a cached copy can outlive an update.
func (s *RuleService) Lookup(ctx context.Context, id string) (*models.Rule, error) {
	rule, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rule.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "rule not found")
	}
	return rule, nil
}

// Get returns a rule regardless of its active flag.
func (s *RuleService) Get(ctx context.Context, id string) (*models.Rule, error) {
	var cached models.Rule
	if s.cache.Get(ctx, ruleCachePrefix+id, &cached) {
		return &cached, nil
	}
	rule, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, ruleCachePrefix+id, rule, 0)
	return rule, nil
}

func (s *RuleService) load(ctx context.Context, id string) (*models.Rule, error) {
	rule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rule not found")
		}
		return nil, appErrors.Internal(err, "failed to load rule")
	}
	return rule, nil
}

// List returns the catalog. The unfiltered list is cached.
func (s *RuleService) List(ctx context.Context, filter models.RuleFilter) ([]models.Rule, error) {
	unfiltered := filter.Category == nil && !filter.ActiveOnly
	if unfiltered {
		var cached []models.Rule
		if s.cache.Get(ctx, ruleCacheAll, &cached) {
			return cached, nil
		}
	}
	rules, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list rules")
	}
	if rules == nil {
		rules = []models.Rule{}
	}
	if unfiltered {
		s.cache.Set(ctx, ruleCacheAll, rules, 0)
	}
	return rules, nil
}

// Create adds a rule.
func (s *RuleService) Create(ctx context.Context, req dto.CreateRuleRequest) (*models.Rule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payload")
	}
	if err := s.ensureUniqueCode(ctx, req.Code, ""); err != nil {
		return nil, err
	}
	rule := &models.Rule{
		Code:     req.Code,
		Name:     req.Name,
		Category: models.RuleCategory(req.Category),
		Points:   req.Points,
		Active:   true,
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, appErrors.Internal(err, "failed to create rule")
	}
	s.invalidate(ctx)
	return rule, nil
}

// Update modifies a rule. Points and category are frozen once any violation references the rule.
func (s *RuleService) Update(ctx context.Context, id string, req dto.UpdateRuleRequest) (*models.Rule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payload")
	}
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rule not found")
		}
		return nil, appErrors.Internal(err, "failed to load rule")
	}
	category := models.RuleCategory(req.Category)
	if current.Points != req.Points || current.Category != category {
		referenced, err := s.repo.IsReferenced(ctx, id)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check rule references")
		}
		if referenced {
			return nil, appErrors.Clone(appErrors.ErrConflict, "rule points and category cannot change once violations reference it")
		}
	}
	if req.Code != current.Code {
		if err := s.ensureUniqueCode(ctx, req.Code, id); err != nil {
			return nil, err
		}
	}
	current.Code = req.Code
	current.Name = req.Name
	current.Category = category
	current.Points = req.Points
	if req.Active != nil {
		current.Active = *req.Active
	}
	if err := s.repo.Update(ctx, current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rule not found")
		}
		return nil, appErrors.Internal(err, "failed to update rule")
	}
	s.invalidate(ctx)
	return current, nil
}

func (s *RuleService) ensureUniqueCode(ctx context.Context, code, excludeID string) error {
	exists, err := s.repo.ExistsByCode(ctx, code, excludeID)
	if err != nil {
		return appErrors.Internal(err, "failed to check rule code")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "rule code already exists")
	}
	return nil
}

func (s *RuleService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, ruleCachePattern); err != nil {
		s.logger.Warn("rule cache invalidation failed", zap.Error(err))
	}
}
