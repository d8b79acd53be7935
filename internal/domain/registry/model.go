package registry

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patients table. ExternalID is the identifier the
// source system uses; every clinical event references it, so analytics
// joins never depend on our row ids.
type Patient struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	ExternalID string          `db:"external_id" json:"external_id"`
	AgeRange   string          `db:"age_range" json:"age_range"`
	Gender     string          `db:"gender" json:"gender"`
	Race       string          `db:"race" json:"race"`
	HrsnFlags  map[string]bool `db:"hrsn_flags" json:"hrsn_flags,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// ClinicalEvent maps to the clinical_events table. Rows are immutable
// once ingested; corrections happen by delete and re-load.
type ClinicalEvent struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	PatientID          string    `db:"patient_id" json:"patient_id"`
	Kind               string    `db:"kind" json:"kind"`
	Label              string    `db:"label" json:"label"`
	SessionDate        time.Time `db:"session_date" json:"session_date"`
	DiagnosticCategory *string   `db:"diagnostic_category" json:"diagnostic_category,omitempty"`
	Diagnosis          *string   `db:"diagnosis" json:"diagnosis,omitempty"`
	ICD10Code          *string   `db:"icd10_code" json:"icd10_code,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// EventInput is the wire shape for creating a clinical event. The
// session date travels as a string so loosely formatted sources are
// canonicalized during validation rather than rejected by the JSON
// decoder.
type EventInput struct {
	PatientID          string `json:"patient_id"`
	Kind               string `json:"kind"`
	Label              string `json:"label"`
	SessionDate        string `json:"session_date"`
	DiagnosticCategory string `json:"diagnostic_category,omitempty"`
	Diagnosis          string `json:"diagnosis,omitempty"`
	ICD10Code          string `json:"icd10_code,omitempty"`
}

// BulkExtract is the bulk extraction payload shape: two arrays of
// loosely shaped objects whose field names vary by source system. The
// service canonicalizes both through the engine's field resolver.
type BulkExtract struct {
	Patients []map[string]any `json:"patients"`
	Data     []map[string]any `json:"data"`
}

// BulkResult reports what one bulk load did. Skipped counts rows that
// carried no usable patient identifier, an unknown kind, or an
// unparseable session date.
type BulkResult struct {
	PatientsLoaded int `json:"patients_loaded"`
	EventsLoaded   int `json:"events_loaded"`
	Skipped        int `json:"skipped"`
}
