package engine

import "fmt"

// BucketDef defines one risk stratification tier. Max of -1 leaves the
// bucket unbounded above.
type BucketDef struct {
	Label string `json:"label" yaml:"label"`
	Min   int    `json:"min" yaml:"min"`
	Max   int    `json:"max" yaml:"max"`
}

// DefaultRiskBuckets returns the standard stratification tiers over
// total per-patient event counts.
func DefaultRiskBuckets() []BucketDef {
	return []BucketDef{
		{Label: "None", Min: 0, Max: 0},
		{Label: "Low", Min: 1, Max: 9},
		{Label: "Medium", Min: 10, Max: 19},
		{Label: "Medium-High", Min: 20, Max: 49},
		{Label: "High", Min: 50, Max: 99},
		{Label: "Very High", Min: 100, Max: -1},
	}
}

// ValidateBuckets checks that the definitions are contiguous from zero,
// non-overlapping, and exhaustive over [0, ∞), which guarantees every
// patient total lands in exactly one bucket.
func ValidateBuckets(defs []BucketDef) error {
	if len(defs) == 0 {
		return fmt.Errorf("no risk buckets defined")
	}
	next := 0
	for i, d := range defs {
		if d.Label == "" {
			return fmt.Errorf("risk bucket %d: missing label", i)
		}
		if d.Min != next {
			return fmt.Errorf("risk bucket %q: starts at %d, expected %d", d.Label, d.Min, next)
		}
		if i == len(defs)-1 {
			if d.Max != -1 {
				return fmt.Errorf("risk bucket %q: last bucket must be unbounded", d.Label)
			}
			return nil
		}
		if d.Max < d.Min {
			return fmt.Errorf("risk bucket %q: max %d below min %d", d.Label, d.Max, d.Min)
		}
		next = d.Max + 1
	}
	return nil
}

// Stratify buckets every known patient by their total event count under
// the current filter. Patients with zero events land in the bucket
// covering zero; buckets that collect nobody are still emitted so
// downstream displays keep a stable tier list. Events for patients
// absent from the patient set are ignored.
func Stratify(events []ClinicalEvent, patients []PatientRecord, defs []BucketDef) []RiskBucket {
	if len(defs) == 0 {
		defs = DefaultRiskBuckets()
	}

	totals := make(map[string]int, len(patients))
	for _, p := range patients {
		totals[p.PatientID] = 0
	}
	for _, e := range events {
		if _, known := totals[e.PatientID]; known {
			totals[e.PatientID]++
		}
	}

	buckets := make([]RiskBucket, len(defs))
	for i, d := range defs {
		buckets[i] = RiskBucket{Label: d.Label, MinCount: d.Min, MaxCount: d.Max}
	}
	for _, total := range totals {
		for i, d := range defs {
			if total < d.Min {
				continue
			}
			if d.Max != -1 && total > d.Max {
				continue
			}
			buckets[i].PatientCount++
			break
		}
	}

	totalPatients := len(totals)
	for i := range buckets {
		buckets[i].Percentage = Project(buckets[i].PatientCount, totalPatients, ModePercentage)
	}
	return buckets
}
