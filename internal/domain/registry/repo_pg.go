package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pophealth/pophealth/internal/engine"
	"github.com/pophealth/pophealth/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, external_id, age_range, gender, race, hrsn_flags, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var flags []byte
	err := row.Scan(&p.ID, &p.ExternalID, &p.AgeRange, &p.Gender, &p.Race, &flags, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &p.HrsnFlags); err != nil {
			return nil, fmt.Errorf("decode hrsn_flags for %s: %w", p.ExternalID, err)
		}
	}
	return &p, nil
}

func marshalFlags(flags map[string]bool) ([]byte, error) {
	if flags == nil {
		flags = map[string]bool{}
	}
	return json.Marshal(flags)
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	flags, err := marshalFlags(p.HrsnFlags)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, external_id, age_range, gender, race, hrsn_flags)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.ExternalID, p.AgeRange, p.Gender, p.Race, flags)
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByExternalID(ctx context.Context, externalID string) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE external_id = $1`, externalID))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	flags, err := marshalFlags(p.HrsnFlags)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE patients SET age_range=$2, gender=$3, race=$4, hrsn_flags=$5, updated_at=NOW()
		WHERE external_id = $1`,
		p.ExternalID, p.AgeRange, p.Gender, p.Race, flags)
	return err
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY external_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) Count(ctx context.Context) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total)
	return total, err
}

func (r *patientRepoPG) AllForAnalytics(ctx context.Context) ([]engine.PatientRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT external_id, age_range, gender, race, hrsn_flags FROM patients ORDER BY external_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []engine.PatientRecord{}
	for rows.Next() {
		var externalID, ageRange, gender, race string
		var flags []byte
		if err := rows.Scan(&externalID, &ageRange, &gender, &race, &flags); err != nil {
			return nil, err
		}
		rec := engine.PatientRecord{
			PatientID: externalID,
			Attributes: map[string]string{
				"age_range": ageRange,
				"gender":    gender,
				"race":      race,
			},
		}
		if len(flags) > 0 {
			if err := json.Unmarshal(flags, &rec.HrsnFlags); err != nil {
				return nil, fmt.Errorf("decode hrsn_flags for %s: %w", externalID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =========== Event Repository ===========

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewEventRepoPG(pool *pgxpool.Pool) EventRepository {
	return &eventRepoPG{pool: pool}
}

func (r *eventRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const eventCols = `id, patient_id, kind, label, session_date, diagnostic_category, diagnosis, icd10_code, created_at`

func (r *eventRepoPG) scanEvent(row pgx.Row) (*ClinicalEvent, error) {
	var e ClinicalEvent
	err := row.Scan(&e.ID, &e.PatientID, &e.Kind, &e.Label, &e.SessionDate,
		&e.DiagnosticCategory, &e.Diagnosis, &e.ICD10Code, &e.CreatedAt)
	return &e, err
}

func (r *eventRepoPG) Create(ctx context.Context, e *ClinicalEvent) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_events (id, patient_id, kind, label, session_date, diagnostic_category, diagnosis, icd10_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.PatientID, e.Kind, e.Label, e.SessionDate, e.DiagnosticCategory, e.Diagnosis, e.ICD10Code)
	return err
}

func (r *eventRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicalEvent, error) {
	return r.scanEvent(r.conn(ctx).QueryRow(ctx, `SELECT `+eventCols+` FROM clinical_events WHERE id = $1`, id))
}

func (r *eventRepoPG) List(ctx context.Context, limit, offset int) ([]*ClinicalEvent, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinical_events`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+eventCols+` FROM clinical_events ORDER BY session_date, patient_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ClinicalEvent
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *eventRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*ClinicalEvent, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinical_events WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+eventCols+` FROM clinical_events WHERE patient_id = $1 ORDER BY session_date LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ClinicalEvent
	for rows.Next() {
		e, err := r.scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *eventRepoPG) Count(ctx context.Context) (int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinical_events`).Scan(&total)
	return total, err
}

func (r *eventRepoPG) DeleteByPatient(ctx context.Context, patientID string) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinical_events WHERE patient_id = $1`, patientID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *eventRepoPG) AllForAnalytics(ctx context.Context) ([]engine.ClinicalEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id, kind, label, session_date, diagnostic_category, diagnosis, icd10_code
		FROM clinical_events ORDER BY session_date, patient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := []engine.ClinicalEvent{}
	for rows.Next() {
		var e ClinicalEvent
		if err := rows.Scan(&e.PatientID, &e.Kind, &e.Label, &e.SessionDate,
			&e.DiagnosticCategory, &e.Diagnosis, &e.ICD10Code); err != nil {
			return nil, err
		}
		events = append(events, engine.ClinicalEvent{
			PatientID:          e.PatientID,
			Kind:               engine.EventKind(e.Kind),
			Label:              e.Label,
			SessionDate:        e.SessionDate.Format("2006-01-02"),
			DiagnosticCategory: strVal(e.DiagnosticCategory),
			Diagnosis:          strVal(e.Diagnosis),
			ICD10Code:          strVal(e.ICD10Code),
		})
	}
	return events, rows.Err()
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
