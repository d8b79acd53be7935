package engine

// Options parameterizes one pipeline run. The zero value asks for a
// label pivot in count mode over every event kind with default
// thresholds and buckets and no category truncation.
type Options struct {
	Criteria      Criteria
	Kind          EventKind
	RowField      RowField
	Mode          DisplayMode
	CategoryCount int
	Thresholds    TierThresholds
	Buckets       []BucketDef
}

// Report bundles every derived structure from one pipeline run. Each
// run allocates a fresh report; callers replace their previous one
// wholesale rather than patching it.
type Report struct {
	Matrix         PivotMatrix       `json:"matrix"`
	Points         []ClassifiedPoint `json:"points"`
	Buckets        []RiskBucket      `json:"buckets"`
	Dataset        Dataset           `json:"dataset"`
	UniquePatients int               `json:"uniquePatients"`
}

// Run executes the full pipeline: filter, pivot, classify, stratify,
// and project. Concurrent runs share nothing; every intermediate
// structure belongs to this call alone.
//
// The criteria see every event a patient has, so a symptom pivot can
// still be scoped to, say, a diagnosis cohort. Kind narrows the rows
// only after the cohort is settled.
func Run(events []ClinicalEvent, patients []PatientRecord, opts Options) *Report {
	if opts.RowField == "" {
		opts.RowField = RowLabel
	}
	if opts.Mode == "" {
		opts.Mode = ModeCount
	}

	filtered := Filter(events, patients, opts.Criteria)
	scoped := ScopeToKind(filtered.Events, opts.Kind)
	matrix := BuildPivot(scoped, opts.RowField)
	points := Classify(matrix, opts.Thresholds)
	buckets := Stratify(scoped, filtered.Patients, opts.Buckets)
	dataset := BuildDataset(RowTotals(matrix), matrix.Total(), opts.Mode, opts.CategoryCount)

	return &Report{
		Matrix:         matrix,
		Points:         points,
		Buckets:        buckets,
		Dataset:        dataset,
		UniquePatients: countUniquePatients(scoped),
	}
}

// ScopeToKind returns the subset of events of the given kind. The empty
// kind means no scoping and returns the input as-is.
func ScopeToKind(events []ClinicalEvent, kind EventKind) []ClinicalEvent {
	if kind == "" {
		return events
	}
	scoped := make([]ClinicalEvent, 0, len(events))
	for _, e := range events {
		if e.Kind == kind {
			scoped = append(scoped, e)
		}
	}
	return scoped
}
