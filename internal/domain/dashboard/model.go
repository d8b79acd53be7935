package dashboard

import (
	"time"

	"github.com/google/uuid"

	"github.com/pophealth/pophealth/internal/engine"
)

// Snapshot maps to the aggregate_snapshots table: one pre-aggregated
// dataset for a (kind, criteria) pair, pushed by an upstream reporting
// job. Snapshots outrank live pipeline runs in the fallback chain.
type Snapshot struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Kind        string         `db:"kind" json:"kind"`
	CriteriaKey string         `db:"criteria_key" json:"criteria_key"`
	Dataset     engine.Dataset `db:"dataset" json:"dataset"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// SnapshotInput is the wire shape for upserting a snapshot. The dataset
// rows arrive loosely typed and are validated through the engine's
// dataset decoder before anything is stored.
type SnapshotInput struct {
	Kind     string           `json:"kind"`
	Criteria engine.Criteria  `json:"criteria"`
	Dataset  []map[string]any `json:"dataset"`
}

// ChartResponse is one chart surface: the resolved dataset plus the
// palette the client should color it with.
type ChartResponse struct {
	Dataset engine.Dataset     `json:"dataset"`
	Mode    engine.DisplayMode `json:"mode"`
	Theme   string             `json:"theme"`
	Palette [5]string          `json:"palette"`
}

// HeatmapCell is one colored cell of the heatmap surface.
type HeatmapCell struct {
	Column    string           `json:"column"`
	Intensity int              `json:"intensity"`
	Frequency int              `json:"frequency"`
	Tier      engine.ColorTier `json:"tier"`
	Color     string           `json:"color"`
}

// HeatmapRow groups the non-zero cells of one pivot row, in column
// order.
type HeatmapRow struct {
	Row   string        `json:"row"`
	Cells []HeatmapCell `json:"cells"`
}

// HeatmapResponse is the heatmap surface: classified cells grouped by
// row, plus the full column list so clients can lay out empty cells.
type HeatmapResponse struct {
	Rows    []HeatmapRow `json:"rows"`
	Columns []string     `json:"columns"`
	Theme   string       `json:"theme"`
}

// Summary reports population-level totals under the active criteria.
type Summary struct {
	TotalPatients  int            `json:"total_patients"`
	UniquePatients int            `json:"unique_patients"`
	TotalEvents    int            `json:"total_events"`
	EventsByKind   map[string]int `json:"events_by_kind"`
}
