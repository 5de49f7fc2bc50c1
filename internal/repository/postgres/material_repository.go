package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kitwatch/notifier/internal/domain/inventory"
)

// MaterialRepository implements inventory.Repository using PostgreSQL.
// It only serves the report queries; materials are maintained elsewhere.
type MaterialRepository struct {
	pool *pgxpool.Pool
}

func NewMaterialRepository(pool *pgxpool.Pool) *MaterialRepository {
	return &MaterialRepository{pool: pool}
}

var _ inventory.Repository = (*MaterialRepository)(nil)

func (r *MaterialRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

const materialColumns = `id, name, kit, location, quantity, min_quantity, expires_at`

func scanMaterial(s scanner) (*inventory.Item, error) {
	it := &inventory.Item{}
	if err := s.Scan(&it.ID, &it.Name, &it.Kit, &it.Location, &it.Quantity, &it.MinQuantity, &it.ExpiresAt); err != nil {
		return nil, err
	}
	return it, nil
}

// DueForPeriod returns materials whose expiry date is in [from, to). The
// bounds are compared as calendar dates in their own location.
func (r *MaterialRepository) DueForPeriod(ctx context.Context, from, to time.Time) ([]*inventory.Item, error) {
	return r.query(ctx, "list expiring materials",
		`SELECT `+materialColumns+` FROM materials
		 WHERE expires_at IS NOT NULL AND expires_at >= $1::date AND expires_at < $2::date
		 ORDER BY expires_at, kit, name`,
		from.Format(time.DateOnly), to.Format(time.DateOnly),
	)
}

// ZeroStock returns materials with quantity 0.
func (r *MaterialRepository) ZeroStock(ctx context.Context) ([]*inventory.Item, error) {
	return r.query(ctx, "list zero stock materials",
		`SELECT `+materialColumns+` FROM materials WHERE quantity = 0 ORDER BY kit, name`,
	)
}

func (r *MaterialRepository) query(ctx context.Context, op, sql string, args ...any) ([]*inventory.Item, error) {
	rows, err := r.db(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := []*inventory.Item{}
	for rows.Next() {
		it, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}
