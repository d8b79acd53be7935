package dashboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pophealth/pophealth/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type snapshotRepoPG struct{ pool *pgxpool.Pool }

func NewSnapshotRepoPG(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepoPG{pool: pool}
}

func (r *snapshotRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const snapshotCols = `id, kind, criteria_key, dataset, created_at`

func (r *snapshotRepoPG) scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	var dataset []byte
	err := row.Scan(&s.ID, &s.Kind, &s.CriteriaKey, &dataset, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(dataset) > 0 {
		if err := json.Unmarshal(dataset, &s.Dataset); err != nil {
			return nil, fmt.Errorf("decode snapshot dataset %s: %w", s.ID, err)
		}
	}
	return &s, nil
}

func (r *snapshotRepoPG) Upsert(ctx context.Context, s *Snapshot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	dataset, err := json.Marshal(s.Dataset)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO aggregate_snapshots (id, kind, criteria_key, dataset)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (kind, criteria_key)
		DO UPDATE SET dataset = EXCLUDED.dataset, created_at = NOW()
		RETURNING id, created_at`,
		s.ID, s.Kind, s.CriteriaKey, dataset).Scan(&s.ID, &s.CreatedAt)
}

func (r *snapshotRepoPG) GetByKindAndCriteria(ctx context.Context, kind, criteriaKey string) (*Snapshot, error) {
	return r.scanSnapshot(r.conn(ctx).QueryRow(ctx,
		`SELECT `+snapshotCols+` FROM aggregate_snapshots WHERE kind = $1 AND criteria_key = $2`,
		kind, criteriaKey))
}

func (r *snapshotRepoPG) List(ctx context.Context, limit, offset int) ([]*Snapshot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM aggregate_snapshots`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+snapshotCols+` FROM aggregate_snapshots ORDER BY kind, criteria_key LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Snapshot
	for rows.Next() {
		s, err := r.scanSnapshot(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
