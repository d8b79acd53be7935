package engine

import "strings"

// FilterResult is the outcome of applying criteria to a record set.
//
// UniquePatientCount is derived from the surviving event rows through a
// deduplicating set, never from the raw row count, since one patient
// usually contributes many events.
type FilterResult struct {
	Events             []ClinicalEvent
	Patients           []PatientRecord
	UniquePatientCount int
}

// Filter applies the criteria to the record set and returns the
// surviving subset. Symptom and diagnosis predicates join each patient
// to their events and keep patients with at least one matching event.
//
// A filter that matches nothing returns the empty result. It never
// falls back to the unfiltered set; "no data" is reported honestly and
// rendered as such downstream.
func Filter(events []ClinicalEvent, patients []PatientRecord, c Criteria) FilterResult {
	byPatient := make(map[string][]ClinicalEvent, len(patients))
	for _, e := range events {
		if e.PatientID == "" {
			continue
		}
		byPatient[e.PatientID] = append(byPatient[e.PatientID], e)
	}

	// The patient universe comes from the patient table when supplied,
	// otherwise from the ids observed on the events themselves.
	universe := patients
	if len(universe) == 0 {
		universe = make([]PatientRecord, 0, len(byPatient))
		seen := make(map[string]bool, len(byPatient))
		for _, e := range events {
			if e.PatientID == "" || seen[e.PatientID] {
				continue
			}
			seen[e.PatientID] = true
			universe = append(universe, PatientRecord{PatientID: e.PatientID})
		}
	}

	if !criteriaActive(c) {
		return FilterResult{
			Events:             events,
			Patients:           universe,
			UniquePatientCount: countUniquePatients(events),
		}
	}

	matched := make([]PatientRecord, 0, len(universe))
	matchedIDs := make(map[string]bool, len(universe))
	for _, p := range universe {
		if patientMatches(p, byPatient[p.PatientID], c) {
			matched = append(matched, p)
			matchedIDs[p.PatientID] = true
		}
	}

	subset := make([]ClinicalEvent, 0, len(events))
	for _, e := range events {
		if matchedIDs[e.PatientID] {
			subset = append(subset, e)
		}
	}

	return FilterResult{
		Events:             subset,
		Patients:           matched,
		UniquePatientCount: countUniquePatients(subset),
	}
}

func countUniquePatients(events []ClinicalEvent) int {
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		if e.PatientID != "" {
			seen[e.PatientID] = true
		}
	}
	return len(seen)
}

func criterionSet(v string) bool {
	return v != "" && !strings.EqualFold(v, CriteriaAll)
}

func criteriaActive(c Criteria) bool {
	return criterionSet(c.Diagnosis) ||
		criterionSet(c.DiagnosticCategory) ||
		criterionSet(c.Symptom) ||
		criterionSet(c.HrsnIndicator) ||
		criterionSet(c.ICD10Code)
}

func patientMatches(p PatientRecord, events []ClinicalEvent, c Criteria) bool {
	if criterionSet(c.Diagnosis) && !hasDiagnosis(events, c.Diagnosis) {
		return false
	}
	if criterionSet(c.DiagnosticCategory) && !hasCategory(events, c.DiagnosticCategory) {
		return false
	}
	if criterionSet(c.Symptom) && !hasEvent(events, KindSymptom, c.Symptom) {
		return false
	}
	if criterionSet(c.HrsnIndicator) && !hasHrsn(p, events, c.HrsnIndicator) {
		return false
	}
	if criterionSet(c.ICD10Code) && !hasICD10(events, c.ICD10Code) {
		return false
	}
	return true
}

func hasEvent(events []ClinicalEvent, kind EventKind, label string) bool {
	for _, e := range events {
		if e.Kind == kind && strings.EqualFold(e.Label, label) {
			return true
		}
	}
	return false
}

func hasDiagnosis(events []ClinicalEvent, diagnosis string) bool {
	for _, e := range events {
		if strings.EqualFold(e.Diagnosis, diagnosis) {
			return true
		}
		if e.Kind == KindDiagnosis && strings.EqualFold(e.Label, diagnosis) {
			return true
		}
	}
	return false
}

func hasCategory(events []ClinicalEvent, category string) bool {
	for _, e := range events {
		if strings.EqualFold(e.DiagnosticCategory, category) {
			return true
		}
		if e.Kind == KindDiagnosticCategory && strings.EqualFold(e.Label, category) {
			return true
		}
	}
	return false
}

func hasHrsn(p PatientRecord, events []ClinicalEvent, indicator string) bool {
	if p.HrsnFlags[indicator] {
		return true
	}
	return hasEvent(events, KindHrsnIndicator, indicator)
}

func hasICD10(events []ClinicalEvent, code string) bool {
	for _, e := range events {
		if strings.EqualFold(e.ICD10Code, code) {
			return true
		}
	}
	return false
}
