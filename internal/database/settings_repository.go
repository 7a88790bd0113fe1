package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
)

// SettingsRepository stores admin flags in app_settings.
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

var _ SettingsStore = (*SettingsRepository)(nil)

// GetBool reads a boolean flag. found is false when the key is absent.
func (r *SettingsRepository) GetBool(ctx context.Context, key string) (value, found bool, err error) {
	var raw string
	err = r.db.GetContext(ctx, &raw, `SELECT value FROM app_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get setting %s: %w", key, err)
	}

	value, err = strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("parse setting %s=%q: %w", key, raw, err)
	}
	return value, true, nil
}

// SetBool upserts a boolean flag.
func (r *SettingsRepository) SetBool(ctx context.Context, key string, value bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, strconv.FormatBool(value),
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
