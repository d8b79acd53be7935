package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pophealth/pophealth/internal/engine"
)

// RecordSource loads the full record set in the engine's shapes. The
// registry service satisfies it.
type RecordSource interface {
	Records(ctx context.Context) ([]engine.ClinicalEvent, []engine.PatientRecord, error)
}

// Definitions carries the tunable analytics definitions into the
// service: stratification buckets, tier cutoffs, and palettes.
type Definitions struct {
	Buckets    []engine.BucketDef
	Thresholds engine.TierThresholds
	Themes     []engine.Theme
}

type Service struct {
	records   RecordSource
	snapshots SnapshotRepository
	defs      Definitions
	cache     *engine.Cache
}

// NewService builds the dashboard service. cacheTTL bounds how long a
// memoized pipeline report may serve; non-positive disables expiry.
func NewService(records RecordSource, snapshots SnapshotRepository, defs Definitions, cacheTTL time.Duration) *Service {
	if len(defs.Themes) == 0 {
		defs.Themes = engine.DefaultThemes()
	}
	return &Service{
		records:   records,
		snapshots: snapshots,
		defs:      defs,
		cache:     engine.NewCache(cacheTTL),
	}
}

// StartCacheCleanup launches the background sweep for expired reports.
func (s *Service) StartCacheCleanup(ctx context.Context, interval time.Duration) {
	s.cache.StartCleanup(ctx, interval)
}

// report runs the pipeline for one request, memoized on the input
// fingerprint. The criteria run against the full record set so a view
// of one kind can be scoped by another kind's events; the engine
// narrows to the kind once the cohort is settled. Datasets are cached
// untruncated; callers apply category_count afterwards.
func (s *Service) report(ctx context.Context, kind engine.EventKind, c engine.Criteria, rowField engine.RowField, mode engine.DisplayMode) (*engine.Report, error) {
	events, patients, err := s.records.Records(ctx)
	if err != nil {
		return nil, err
	}
	if rowField == "" {
		rowField = rowFieldFor(kind)
	}
	key := engine.CacheKey(engine.HashRecords(events, patients), c, kind, rowField, mode)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}
	report := engine.Run(events, patients, engine.Options{
		Criteria:   c,
		Kind:       kind,
		RowField:   rowField,
		Mode:       mode,
		Thresholds: s.defs.Thresholds,
		Buckets:    s.defs.Buckets,
	})
	s.cache.Set(key, report)
	return report, nil
}

// rowFieldFor picks the pivot row key a kind naturally groups by.
func rowFieldFor(kind engine.EventKind) engine.RowField {
	switch kind {
	case engine.KindDiagnosis:
		return engine.RowDiagnosis
	case engine.KindDiagnosticCategory:
		return engine.RowDiagnosticCategory
	default:
		return engine.RowLabel
	}
}

func validKind(kind engine.EventKind) error {
	if !engine.ValidKinds[kind] {
		return fmt.Errorf("invalid kind: %s", kind)
	}
	return nil
}

// PatientPivot builds the single-patient matrix for one kind.
func (s *Service) PatientPivot(ctx context.Context, kind engine.EventKind, patientID string) (engine.PivotMatrix, error) {
	if err := validKind(kind); err != nil {
		return engine.PivotMatrix{}, err
	}
	if patientID == "" {
		return engine.PivotMatrix{}, fmt.Errorf("patient id is required")
	}
	events, _, err := s.records.Records(ctx)
	if err != nil {
		return engine.PivotMatrix{}, err
	}
	own := make([]engine.ClinicalEvent, 0, len(events))
	for _, e := range events {
		if e.PatientID == patientID && e.Kind == kind {
			own = append(own, e)
		}
	}
	return engine.BuildPivot(own, rowFieldFor(kind)), nil
}

// Pivot builds the population matrix for one kind under the criteria.
func (s *Service) Pivot(ctx context.Context, kind engine.EventKind, c engine.Criteria, rowField engine.RowField) (engine.PivotMatrix, error) {
	if err := validKind(kind); err != nil {
		return engine.PivotMatrix{}, err
	}
	if rowField != "" && !engine.ValidRowFields[rowField] {
		return engine.PivotMatrix{}, fmt.Errorf("invalid row_field: %s", rowField)
	}
	report, err := s.report(ctx, kind, c, rowField, engine.ModeCount)
	if err != nil {
		return engine.PivotMatrix{}, err
	}
	return report.Matrix, nil
}

// Chart resolves the dataset for one kind through the fallback chain:
// stored snapshot, then a live pipeline run, then inference from the
// patient table. An exhausted chain returns the empty dataset.
func (s *Service) Chart(ctx context.Context, kind engine.EventKind, c engine.Criteria, mode engine.DisplayMode, categoryCount int, themeName string) (*ChartResponse, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = engine.ModeCount
	}
	if !engine.ValidModes[mode] {
		return nil, fmt.Errorf("invalid mode: %s", mode)
	}

	ds := engine.ResolveSource(
		func() (engine.Dataset, error) {
			snap, err := s.snapshots.GetByKindAndCriteria(ctx, string(kind), criteriaKey(c))
			if err != nil {
				return nil, err
			}
			return reproject(snap.Dataset, mode, categoryCount), nil
		},
		func() (engine.Dataset, error) {
			report, err := s.report(ctx, kind, c, rowFieldFor(kind), mode)
			if err != nil {
				return nil, err
			}
			return truncate(report.Dataset, categoryCount), nil
		},
		func() (engine.Dataset, error) {
			return s.patientTableDataset(ctx, kind, c, mode, categoryCount)
		},
	)

	theme := engine.ThemeByName(s.defs.Themes, themeName)
	return &ChartResponse{Dataset: ds, Mode: mode, Theme: theme.Name, Palette: theme.Palette}, nil
}

// patientTableDataset infers an hrsn dataset from patient flags when no
// events carry the data. Other kinds have no patient-table rendering
// and come up empty.
func (s *Service) patientTableDataset(ctx context.Context, kind engine.EventKind, c engine.Criteria, mode engine.DisplayMode, categoryCount int) (engine.Dataset, error) {
	if kind != engine.KindHrsnIndicator {
		return engine.Dataset{}, nil
	}
	events, patients, err := s.records.Records(ctx)
	if err != nil {
		return nil, err
	}
	filtered := engine.Filter(events, patients, c)
	totals := map[string]int{}
	for _, p := range filtered.Patients {
		for flag, set := range p.HrsnFlags {
			if set {
				totals[flag]++
			}
		}
	}
	total := 0
	for _, n := range totals {
		total += n
	}
	return engine.BuildDataset(totals, total, mode, categoryCount), nil
}

// reproject rebuilds a dataset from its raw counts for the requested
// mode, so stored snapshots serve both count and percentage requests.
func reproject(ds engine.Dataset, mode engine.DisplayMode, categoryCount int) engine.Dataset {
	totals := make(map[string]int, len(ds))
	total := 0
	for _, p := range ds {
		totals[p.ID] = p.RawValue
		total += p.RawValue
	}
	return engine.BuildDataset(totals, total, mode, categoryCount)
}

func truncate(ds engine.Dataset, categoryCount int) engine.Dataset {
	if categoryCount > 0 && len(ds) > categoryCount {
		return ds[:categoryCount]
	}
	return ds
}

// Heatmap classifies the population matrix and colors it with the
// requested theme, cells grouped by row in matrix order.
func (s *Service) Heatmap(ctx context.Context, kind engine.EventKind, c engine.Criteria, themeName string) (*HeatmapResponse, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}
	report, err := s.report(ctx, kind, c, rowFieldFor(kind), engine.ModeCount)
	if err != nil {
		return nil, err
	}
	theme := engine.ThemeByName(s.defs.Themes, themeName)

	byRow := make(map[string][]HeatmapCell, len(report.Matrix.Rows))
	for _, pt := range report.Points {
		byRow[pt.RowLabel] = append(byRow[pt.RowLabel], HeatmapCell{
			Column:    pt.ColumnLabel,
			Intensity: pt.Intensity,
			Frequency: pt.Frequency,
			Tier:      pt.ColorTier,
			Color:     engine.ColorFor(theme, pt.ColorTier),
		})
	}
	rows := make([]HeatmapRow, 0, len(report.Matrix.Rows))
	for _, row := range report.Matrix.Rows {
		rows = append(rows, HeatmapRow{Row: row, Cells: byRow[row]})
	}
	return &HeatmapResponse{Rows: rows, Columns: report.Matrix.Columns, Theme: theme.Name}, nil
}

// Risk stratifies the filtered population. An empty kind spans every
// event kind; a set kind scopes the counted events.
func (s *Service) Risk(ctx context.Context, kind engine.EventKind, c engine.Criteria) ([]engine.RiskBucket, error) {
	if kind != "" {
		if err := validKind(kind); err != nil {
			return nil, err
		}
	}
	report, err := s.report(ctx, kind, c, "", engine.ModeCount)
	if err != nil {
		return nil, err
	}
	return report.Buckets, nil
}

// Summary reports population totals under the criteria.
func (s *Service) Summary(ctx context.Context, c engine.Criteria) (*Summary, error) {
	events, patients, err := s.records.Records(ctx)
	if err != nil {
		return nil, err
	}
	filtered := engine.Filter(events, patients, c)
	byKind := make(map[string]int, len(engine.ValidKinds))
	for _, e := range filtered.Events {
		byKind[string(e.Kind)]++
	}
	return &Summary{
		TotalPatients:  len(patients),
		UniquePatients: filtered.UniquePatientCount,
		TotalEvents:    len(filtered.Events),
		EventsByKind:   byKind,
	}, nil
}

// SaveSnapshot validates and upserts one pre-aggregated dataset.
func (s *Service) SaveSnapshot(ctx context.Context, in *SnapshotInput) (*Snapshot, error) {
	if err := validKind(engine.EventKind(in.Kind)); err != nil {
		return nil, err
	}
	ds, err := engine.DecodeDataset(in.Dataset)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset: %w", err)
	}
	if ds.Empty() {
		return nil, fmt.Errorf("dataset is empty")
	}
	snap := &Snapshot{Kind: in.Kind, CriteriaKey: criteriaKey(in.Criteria), Dataset: ds}
	if err := s.snapshots.Upsert(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// ListSnapshots pages through the stored snapshots.
func (s *Service) ListSnapshots(ctx context.Context, limit, offset int) ([]*Snapshot, int, error) {
	return s.snapshots.List(ctx, limit, offset)
}

// Themes lists the available palettes.
func (s *Service) Themes() []engine.Theme {
	return s.defs.Themes
}

// criteriaKey canonicalizes criteria for snapshot storage: every field
// present, lowercased, absent values as "all". Equal criteria always
// produce equal keys regardless of request formatting.
func criteriaKey(c engine.Criteria) string {
	return strings.Join([]string{
		"diagnosis=" + keyPart(c.Diagnosis),
		"category=" + keyPart(c.DiagnosticCategory),
		"symptom=" + keyPart(c.Symptom),
		"hrsn=" + keyPart(c.HrsnIndicator),
		"icd10=" + keyPart(c.ICD10Code),
	}, "|")
}

func keyPart(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return engine.CriteriaAll
	}
	return v
}
