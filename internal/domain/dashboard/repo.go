package dashboard

import "context"

// SnapshotRepository stores pre-aggregated datasets keyed by kind and
// canonical criteria.
type SnapshotRepository interface {
	Upsert(ctx context.Context, s *Snapshot) error
	GetByKindAndCriteria(ctx context.Context, kind, criteriaKey string) (*Snapshot, error)
	List(ctx context.Context, limit, offset int) ([]*Snapshot, int, error)
}
