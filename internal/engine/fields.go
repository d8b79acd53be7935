package engine

import "strconv"

// fieldAliases maps each canonical attribute name to the legacy field
// name extraction files carry it under. Lookups are single-hop: the
// resolver tries the canonical name on the record first, then the one
// alias.
var fieldAliases = map[string]string{
	"transportation_needs": "access_to_transportation",
	"food_insecurity":      "food_access",
	"housing_insecurity":   "housing_status",
	"utility_needs":        "utilities",
	"interpersonal_safety": "safety",
	"age_range":            "age",
	"gender":               "sex",
}

// Resolve looks up a canonical field on a loosely shaped record. It
// tries the field directly, then its alias, and reports absence with
// the second return instead of an error. Missing data is a normal
// state here, handled by callers through defaulting.
func Resolve(record map[string]any, field string) (any, bool) {
	if record == nil {
		return nil, false
	}
	if v, ok := record[field]; ok && v != nil {
		return v, true
	}
	alias, ok := fieldAliases[field]
	if !ok {
		return nil, false
	}
	if v, ok := record[alias]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// ResolveString resolves a field and coerces it to a string, returning
// fallback when the field is absent or blank.
func ResolveString(record map[string]any, field, fallback string) string {
	v, ok := Resolve(record, field)
	if !ok {
		return fallback
	}
	s := stringify(v)
	if s == "" {
		return fallback
	}
	return s
}

// ResolveBool resolves a field and coerces it to a bool. Absent fields
// are false. String forms accepted: "true", "yes", "y", "1".
func ResolveBool(record map[string]any, field string) bool {
	v, ok := Resolve(record, field)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch t {
		case "true", "yes", "y", "1":
			return true
		}
		return false
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

// PatientIDOf extracts the patient identifier from a record. Source
// tables disagree on the key, so both the patient_id and id shapes are
// accepted, in that order. Returns "" when neither is set.
func PatientIDOf(record map[string]any) string {
	if record == nil {
		return ""
	}
	if v, ok := record["patient_id"]; ok {
		if s := stringify(v); s != "" {
			return s
		}
	}
	if v, ok := record["id"]; ok {
		return stringify(v)
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
