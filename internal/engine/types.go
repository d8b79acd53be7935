// Package engine turns raw clinical event records into the aggregate
// structures the dashboard renders: pivot matrices, classified heat
// points, risk buckets, and chart datasets. Every operation is a pure
// function over its inputs; results are recomputed in full on each call
// and never mutated in place.
package engine

// EventKind identifies what a clinical event row describes.
type EventKind string

const (
	KindSymptom            EventKind = "symptom"
	KindDiagnosis          EventKind = "diagnosis"
	KindDiagnosticCategory EventKind = "diagnostic_category"
	KindHrsnIndicator      EventKind = "hrsn_indicator"
)

// ValidKinds lists the accepted event kinds.
var ValidKinds = map[EventKind]bool{
	KindSymptom:            true,
	KindDiagnosis:          true,
	KindDiagnosticCategory: true,
	KindHrsnIndicator:      true,
}

// ClinicalEvent is one recorded clinical observation for a patient.
// Events are immutable once ingested. SessionDate is carried as the
// ingested string and canonicalized by the pivot builder, so sources
// with mismatched date formatting still group into one column.
type ClinicalEvent struct {
	PatientID          string    `json:"patient_id"`
	Kind               EventKind `json:"kind"`
	Label              string    `json:"label"`
	SessionDate        string    `json:"session_date"`
	DiagnosticCategory string    `json:"diagnostic_category,omitempty"`
	Diagnosis          string    `json:"diagnosis,omitempty"`
	ICD10Code          string    `json:"icd10_code,omitempty"`
}

// PatientRecord is the per-patient demographic row joined against
// events during filtering and stratification. Attributes hold canonical
// demographic fields (age_range, gender, race); HrsnFlags hold
// health-related social need indicators.
type PatientRecord struct {
	PatientID  string            `json:"patient_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	HrsnFlags  map[string]bool   `json:"hrsn_flags,omitempty"`
}

// PivotMatrix is a row by session-date count table.
//
// MaxValue is the largest cell value, floored at 1 when the matrix has
// no cells so downstream normalization never divides by zero.
type PivotMatrix struct {
	Rows     []string                  `json:"rows"`
	Columns  []string                  `json:"columns"`
	Cells    map[string]map[string]int `json:"data"`
	MaxValue int                       `json:"maxValue"`
}

// Cell returns the count at (row, col), 0 when absent.
func (m PivotMatrix) Cell(row, col string) int {
	return m.Cells[row][col]
}

// RowTotal sums every column of one row.
func (m PivotMatrix) RowTotal(row string) int {
	total := 0
	for _, v := range m.Cells[row] {
		total += v
	}
	return total
}

// Total sums every cell in the matrix.
func (m PivotMatrix) Total() int {
	total := 0
	for _, row := range m.Cells {
		for _, v := range row {
			total += v
		}
	}
	return total
}

// ColorTier is the discrete visual intensity classification assigned to
// a matrix cell.
type ColorTier string

const (
	TierHighest ColorTier = "highest"
	TierHigh    ColorTier = "high"
	TierMedium  ColorTier = "medium"
	TierLow     ColorTier = "low"
	TierLowest  ColorTier = "lowest"
)

// ClassifiedPoint is one non-zero matrix cell with its row frequency
// and color tier, consumed by bubble and scatter charts.
//
// Intensity is the cell count. Frequency is the number of distinct
// columns in which the row has any count at all, so it never exceeds
// the column count.
type ClassifiedPoint struct {
	RowLabel    string    `json:"rowLabel"`
	ColumnLabel string    `json:"columnLabel"`
	Intensity   int       `json:"intensity"`
	Frequency   int       `json:"frequency"`
	ColorTier   ColorTier `json:"colorTier"`
}

// RiskBucket is one stratification tier with its assigned patient
// count. MaxCount of -1 means the bucket is unbounded above.
type RiskBucket struct {
	Label        string `json:"label"`
	MinCount     int    `json:"minCount"`
	MaxCount     int    `json:"maxCount"`
	PatientCount int    `json:"patientCount"`
	Percentage   int    `json:"percentage"`
}

// DisplayMode selects how projected values are reported.
type DisplayMode string

const (
	ModeCount      DisplayMode = "count"
	ModePercentage DisplayMode = "percentage"
)

// ValidModes lists the accepted display modes.
var ValidModes = map[DisplayMode]bool{
	ModeCount:      true,
	ModePercentage: true,
}

// DatasetPoint is one chart category. Value carries the projected
// number for the active display mode; RawValue always carries the
// authoritative count so mode switches re-project from ground truth
// instead of compounding rounding error.
type DatasetPoint struct {
	ID         string `json:"id"`
	Value      int    `json:"value"`
	RawValue   int    `json:"rawValue"`
	Percentage int    `json:"percentage"`
}

// Dataset is an ordered list of chart categories, sorted descending by
// RawValue.
type Dataset []DatasetPoint

// Empty reports whether the dataset has no categories.
func (d Dataset) Empty() bool { return len(d) == 0 }

// RowField selects which event attribute becomes the pivot row key.
type RowField string

const (
	RowLabel              RowField = "label"
	RowDiagnosis          RowField = "diagnosis"
	RowDiagnosticCategory RowField = "diagnostic_category"
)

// ValidRowFields lists the accepted pivot row fields.
var ValidRowFields = map[RowField]bool{
	RowLabel:              true,
	RowDiagnosis:          true,
	RowDiagnosticCategory: true,
}

// CriteriaAll is the sentinel meaning "no restriction" for a criteria
// field. An empty string is treated the same way.
const CriteriaAll = "all"

// Criteria is the set of optional equality predicates applied by the
// population filter. A field holding "" or "all" is a no-op.
type Criteria struct {
	Diagnosis          string `json:"diagnosis,omitempty"`
	DiagnosticCategory string `json:"diagnostic_category,omitempty"`
	Symptom            string `json:"symptom,omitempty"`
	HrsnIndicator      string `json:"hrsn_indicator,omitempty"`
	ICD10Code          string `json:"icd10_code,omitempty"`
}
