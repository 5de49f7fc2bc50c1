package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/settings"
)

type scanner interface {
	Scan(dest ...any) error
}

// SettingsRepository implements settings.Repository using PostgreSQL.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

var _ settings.Repository = (*SettingsRepository)(nil)

func (r *SettingsRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func scanSetting(s scanner) (*settings.Setting, error) {
	st := &settings.Setting{}
	var valueType string
	if err := s.Scan(&st.Key, &st.Value, &valueType, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Type = settings.ValueType(valueType)
	return st, nil
}

// Get returns the setting stored under key.
func (r *SettingsRepository) Get(ctx context.Context, key string) (*settings.Setting, error) {
	st, err := scanSetting(r.db(ctx).QueryRow(ctx,
		`SELECT key, value, value_type, updated_at FROM settings WHERE key = $1`, key,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", key, domainErrors.ErrSettingNotFound)
		}
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	return st, nil
}

// GetAll returns every setting ordered by key.
func (r *SettingsRepository) GetAll(ctx context.Context) ([]*settings.Setting, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT key, value, value_type, updated_at FROM settings ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []*settings.Setting
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces a setting. Runs inside the caller's
// transaction when ctx carries one.
func (r *SettingsRepository) Upsert(ctx context.Context, s *settings.Setting) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO settings (key, value, value_type, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, value_type = EXCLUDED.value_type, updated_at = NOW()`,
		s.Key, s.Value, string(s.Type),
	)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", s.Key, err)
	}
	return nil
}
