package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pophealth/pophealth/internal/engine"
	"github.com/pophealth/pophealth/internal/platform/middleware"
)

// TxRunner runs fn inside one storage transaction. The server wires
// db.WithTx here; tests leave it nil and fn runs directly.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// knownHrsnIndicators enumerates the accepted health-related social
// need flags after alias normalization.
var knownHrsnIndicators = map[string]bool{
	"housing_insecurity":   true,
	"food_insecurity":      true,
	"transportation_needs": true,
	"utility_needs":        true,
	"interpersonal_safety": true,
}

type Service struct {
	patients PatientRepository
	events   EventRepository
	tx       TxRunner
}

func NewService(patients PatientRepository, events EventRepository) *Service {
	return &Service{patients: patients, events: events}
}

// SetTxRunner attaches the transaction runner used by bulk loads.
func (s *Service) SetTxRunner(tx TxRunner) {
	s.tx = tx
}

func (s *Service) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx(ctx, fn)
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := normalizePatient(p); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByExternalID(ctx context.Context, externalID string) (*Patient, error) {
	return s.patients.GetByExternalID(ctx, externalID)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := normalizePatient(p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func normalizePatient(p *Patient) error {
	if p.ExternalID == "" {
		return fmt.Errorf("external_id is required")
	}
	for flag := range p.HrsnFlags {
		if !knownHrsnIndicators[flag] {
			return fmt.Errorf("unknown hrsn indicator: %s", flag)
		}
	}
	if p.AgeRange == "" {
		p.AgeRange = "Unknown"
	}
	if p.Gender == "" {
		p.Gender = "Unknown"
	}
	if p.Race == "" {
		p.Race = "Unknown"
	}
	return nil
}

// -- Events --

func (s *Service) CreateEvent(ctx context.Context, in *EventInput) (*ClinicalEvent, error) {
	e, err := buildEvent(in)
	if err != nil {
		return nil, err
	}
	if err := s.events.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (*ClinicalEvent, error) {
	return s.events.GetByID(ctx, id)
}

func (s *Service) ListEvents(ctx context.Context, limit, offset int) ([]*ClinicalEvent, int, error) {
	return s.events.List(ctx, limit, offset)
}

func (s *Service) ListEventsByPatient(ctx context.Context, patientID string, limit, offset int) ([]*ClinicalEvent, int, error) {
	return s.events.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) DeletePatientEvents(ctx context.Context, patientID string) (int, error) {
	if patientID == "" {
		return 0, fmt.Errorf("patient_id is required")
	}
	return s.events.DeleteByPatient(ctx, patientID)
}

func buildEvent(in *EventInput) (*ClinicalEvent, error) {
	if in.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	if !engine.ValidKinds[engine.EventKind(in.Kind)] {
		return nil, fmt.Errorf("invalid kind: %s", in.Kind)
	}
	// Free-text fields arrive from extraction systems and can carry
	// stray control bytes or padding.
	label := middleware.SanitizeString(in.Label)
	if label == "" {
		return nil, fmt.Errorf("label is required")
	}
	if in.SessionDate == "" {
		return nil, fmt.Errorf("session_date is required")
	}
	day, err := time.Parse("2006-01-02", engine.CanonicalDate(in.SessionDate))
	if err != nil {
		return nil, fmt.Errorf("invalid session_date: %s", in.SessionDate)
	}
	return &ClinicalEvent{
		PatientID:          in.PatientID,
		Kind:               in.Kind,
		Label:              label,
		SessionDate:        day,
		DiagnosticCategory: optional(middleware.SanitizeString(in.DiagnosticCategory)),
		Diagnosis:          optional(middleware.SanitizeString(in.Diagnosis)),
		ICD10Code:          optional(middleware.SanitizeString(in.ICD10Code)),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// -- Bulk load --

// BulkLoad ingests one extraction payload. Patient rows are shaped
// through the field resolver and upserted by external id; event rows
// become immutable clinical_events. Malformed rows are skipped and
// counted; storage failures abort the whole load, so a partial extract
// never lands.
func (s *Service) BulkLoad(ctx context.Context, extract *BulkExtract) (*BulkResult, error) {
	if extract == nil || (len(extract.Patients) == 0 && len(extract.Data) == 0) {
		return nil, fmt.Errorf("extract is empty")
	}
	res := &BulkResult{}
	err := s.runInTx(ctx, func(ctx context.Context) error {
		for _, rec := range extract.Patients {
			externalID := engine.PatientIDOf(rec)
			if externalID == "" {
				res.Skipped++
				continue
			}
			p := &Patient{
				ExternalID: externalID,
				AgeRange:   engine.ResolveString(rec, "age_range", "Unknown"),
				Gender:     engine.ResolveString(rec, "gender", "Unknown"),
				Race:       engine.ResolveString(rec, "race", "Unknown"),
				HrsnFlags:  map[string]bool{},
			}
			for flag := range knownHrsnIndicators {
				if engine.ResolveBool(rec, flag) {
					p.HrsnFlags[flag] = true
				}
			}
			existing, err := s.patients.GetByExternalID(ctx, externalID)
			switch {
			case err == nil && existing != nil:
				if err := s.patients.Update(ctx, p); err != nil {
					return fmt.Errorf("update patient %s: %w", externalID, err)
				}
			case err == nil || errors.Is(err, pgx.ErrNoRows):
				if err := s.patients.Create(ctx, p); err != nil {
					return fmt.Errorf("create patient %s: %w", externalID, err)
				}
			default:
				return fmt.Errorf("lookup patient %s: %w", externalID, err)
			}
			res.PatientsLoaded++
		}
		for _, rec := range extract.Data {
			e, err := buildEvent(&EventInput{
				PatientID:          engine.PatientIDOf(rec),
				Kind:               engine.ResolveString(rec, "kind", ""),
				Label:              engine.ResolveString(rec, "label", ""),
				SessionDate:        engine.ResolveString(rec, "session_date", ""),
				DiagnosticCategory: engine.ResolveString(rec, "diagnostic_category", ""),
				Diagnosis:          engine.ResolveString(rec, "diagnosis", ""),
				ICD10Code:          engine.ResolveString(rec, "icd10_code", ""),
			})
			if err != nil {
				res.Skipped++
				continue
			}
			if err := s.events.Create(ctx, e); err != nil {
				return fmt.Errorf("create event for %s: %w", e.PatientID, err)
			}
			res.EventsLoaded++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// -- Analytics loaders --

// Records loads the full event and patient sets in the engine's
// shapes. The dashboard service calls this before every pipeline run.
func (s *Service) Records(ctx context.Context) ([]engine.ClinicalEvent, []engine.PatientRecord, error) {
	events, err := s.events.AllForAnalytics(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	patients, err := s.patients.AllForAnalytics(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load patients: %w", err)
	}
	return events, patients, nil
}

// Counts returns patient and event totals for the summary surface.
func (s *Service) Counts(ctx context.Context) (patients, events int, err error) {
	patients, err = s.patients.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	events, err = s.events.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return patients, events, nil
}
