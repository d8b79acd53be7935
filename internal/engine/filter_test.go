package engine

import "testing"

func ev(patientID string, kind EventKind, label, date string) ClinicalEvent {
	return ClinicalEvent{PatientID: patientID, Kind: kind, Label: label, SessionDate: date}
}

func pat(id string) PatientRecord {
	return PatientRecord{PatientID: id}
}

func testPopulation() ([]ClinicalEvent, []PatientRecord) {
	events := []ClinicalEvent{
		ev("p1", KindSymptom, "Anxiety", "2024-01-01"),
		ev("p1", KindSymptom, "Fatigue", "2024-01-02"),
		ev("p1", KindDiagnosis, "Major Depressive Disorder", "2024-01-02"),
		ev("p2", KindSymptom, "Anxiety", "2024-01-01"),
		ev("p3", KindDiagnosis, "Generalized Anxiety Disorder", "2024-01-03"),
		ev("p3", KindHrsnIndicator, "food_insecurity", "2024-01-03"),
	}
	patients := []PatientRecord{
		pat("p1"),
		pat("p2"),
		pat("p3"),
		{PatientID: "p4", HrsnFlags: map[string]bool{"housing_insecurity": true}},
	}
	return events, patients
}

func TestFilter_NoCriteriaPassesThrough(t *testing.T) {
	events, patients := testPopulation()
	res := Filter(events, patients, Criteria{})
	if len(res.Events) != len(events) {
		t.Errorf("expected %d events, got %d", len(events), len(res.Events))
	}
	if len(res.Patients) != len(patients) {
		t.Errorf("expected %d patients, got %d", len(patients), len(res.Patients))
	}
	if res.UniquePatientCount != 3 {
		t.Errorf("expected 3 unique event patients, got %d", res.UniquePatientCount)
	}
}

func TestFilter_AllSentinelIsNoOp(t *testing.T) {
	events, patients := testPopulation()
	res := Filter(events, patients, Criteria{Diagnosis: "all", Symptom: "All"})
	if len(res.Events) != len(events) {
		t.Errorf("expected all sentinel to pass %d events, got %d", len(events), len(res.Events))
	}
}

func TestFilter_SymptomJoinsPatientEvents(t *testing.T) {
	events, patients := testPopulation()
	res := Filter(events, patients, Criteria{Symptom: "Anxiety"})

	if len(res.Patients) != 2 {
		t.Fatalf("expected 2 matching patients, got %d", len(res.Patients))
	}
	// All events of a matched patient survive, not only the matching ones.
	if len(res.Events) != 4 {
		t.Errorf("expected 4 surviving events, got %d", len(res.Events))
	}
	if res.UniquePatientCount != 2 {
		t.Errorf("expected 2 unique patients, got %d", res.UniquePatientCount)
	}
}

func TestFilter_DiagnosisMatchesLabelOnDiagnosisEvents(t *testing.T) {
	events, patients := testPopulation()
	res := Filter(events, patients, Criteria{Diagnosis: "generalized anxiety disorder"})
	if len(res.Patients) != 1 || res.Patients[0].PatientID != "p3" {
		t.Fatalf("expected only p3 to match, got %+v", res.Patients)
	}
}

func TestFilter_HrsnMatchesFlagOrEvent(t *testing.T) {
	events, patients := testPopulation()

	byEvent := Filter(events, patients, Criteria{HrsnIndicator: "food_insecurity"})
	if len(byEvent.Patients) != 1 || byEvent.Patients[0].PatientID != "p3" {
		t.Fatalf("expected p3 via event, got %+v", byEvent.Patients)
	}

	byFlag := Filter(events, patients, Criteria{HrsnIndicator: "housing_insecurity"})
	if len(byFlag.Patients) != 1 || byFlag.Patients[0].PatientID != "p4" {
		t.Fatalf("expected p4 via flag, got %+v", byFlag.Patients)
	}
	// p4 has no events, so the event-derived unique count stays zero.
	if byFlag.UniquePatientCount != 0 {
		t.Errorf("expected 0 unique event patients, got %d", byFlag.UniquePatientCount)
	}
}

func TestFilter_ZeroMatchesStaysEmpty(t *testing.T) {
	events, patients := testPopulation()
	res := Filter(events, patients, Criteria{Diagnosis: "Nonexistent Condition"})
	if len(res.Events) != 0 {
		t.Errorf("expected no events, got %d", len(res.Events))
	}
	if len(res.Patients) != 0 {
		t.Errorf("expected no patients, got %d", len(res.Patients))
	}
	if res.UniquePatientCount != 0 {
		t.Errorf("expected zero count, got %d", res.UniquePatientCount)
	}
}

func TestFilter_CombinedCriteriaAreConjunctive(t *testing.T) {
	events, patients := testPopulation()
	res := Filter(events, patients, Criteria{Symptom: "Anxiety", Diagnosis: "Major Depressive Disorder"})
	if len(res.Patients) != 1 || res.Patients[0].PatientID != "p1" {
		t.Fatalf("expected only p1, got %+v", res.Patients)
	}
}

func TestFilter_NoPatientTableUsesEventUniverse(t *testing.T) {
	events, _ := testPopulation()
	res := Filter(events, nil, Criteria{Symptom: "Anxiety"})
	if len(res.Patients) != 2 {
		t.Fatalf("expected universe from events, got %+v", res.Patients)
	}
}

func TestFilter_UniqueCountNeverExceedsRows(t *testing.T) {
	events, patients := testPopulation()
	res := Filter(events, patients, Criteria{})
	if res.UniquePatientCount > len(res.Events) {
		t.Errorf("unique count %d exceeds %d rows", res.UniquePatientCount, len(res.Events))
	}

	onePer := []ClinicalEvent{
		ev("a", KindSymptom, "X", "2024-01-01"),
		ev("b", KindSymptom, "X", "2024-01-01"),
	}
	if got := Filter(onePer, nil, Criteria{}).UniquePatientCount; got != len(onePer) {
		t.Errorf("expected equality with one event per patient, got %d", got)
	}
}
