package registry

import (
	"context"

	"github.com/google/uuid"

	"github.com/pophealth/pophealth/internal/engine"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByExternalID(ctx context.Context, externalID string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	Count(ctx context.Context) (int, error)
	// AllForAnalytics loads every patient in the engine's record shape.
	AllForAnalytics(ctx context.Context) ([]engine.PatientRecord, error)
}

type EventRepository interface {
	Create(ctx context.Context, e *ClinicalEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalEvent, error)
	List(ctx context.Context, limit, offset int) ([]*ClinicalEvent, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*ClinicalEvent, int, error)
	Count(ctx context.Context) (int, error)
	DeleteByPatient(ctx context.Context, patientID string) (int, error)
	// AllForAnalytics loads every event in the engine's record shape,
	// session dates formatted canonically.
	AllForAnalytics(ctx context.Context) ([]engine.ClinicalEvent, error)
}
