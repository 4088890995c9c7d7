package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

// settingsRowID is the primary key of the singleton thresholds row.
const settingsRowID = 1

// SettingsRepository stores the singleton threshold settings row.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository constructs a SettingsRepository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Get loads the thresholds. sql.ErrNoRows means nothing has been stored yet.
func (r *SettingsRepository) Get(ctx context.Context, exec sqlx.ExtContext, lock RowLock) (*models.ThresholdSettings, error) {
	query := fmt.Sprintf("SELECT probation_at, expulsion_risk_at, version, updated_by, updated_at FROM discipline_settings WHERE id = $1%s", lock)
	var settings models.ThresholdSettings
	if err := sqlx.GetContext(ctx, r.exec(exec), &settings, query, settingsRowID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get threshold settings: %w", err)
	}
	return &settings, nil
}

// Save writes new thresholds if the stored version still equals expectedVersion
// (0 for a row that does not exist yet). It returns the stored row with its new version,
// or sql.ErrNoRows when the version check failed.
func (r *SettingsRepository) Save(ctx context.Context, exec sqlx.ExtContext, probationAt, expulsionRiskAt uint, expectedVersion int64, updatedBy string) (*models.ThresholdSettings, error) {
	const query = `INSERT INTO discipline_settings (id, probation_at, expulsion_risk_at, version, updated_by, updated_at)
VALUES ($1, $2, $3, $4 + 1, $5, $6)
ON CONFLICT (id) DO UPDATE SET probation_at = EXCLUDED.probation_at, expulsion_risk_at = EXCLUDED.expulsion_risk_at,
version = EXCLUDED.version, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
WHERE discipline_settings.version = $4
RETURNING probation_at, expulsion_risk_at, version, updated_by, updated_at`
	var settings models.ThresholdSettings
	err := sqlx.GetContext(ctx, r.exec(exec), &settings, query,
		settingsRowID, probationAt, expulsionRiskAt, expectedVersion, updatedBy, time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("save threshold settings: %w", err)
	}
	return &settings, nil
}
