package engine

import "fmt"

// Candidate produces a dataset from one upstream source. Candidates own
// their shape translation; the resolver only selects between them.
type Candidate func() (Dataset, error)

// ResolveSource evaluates candidates in priority order and returns the
// first non-empty dataset. A candidate that errors or produces a
// malformed shape is treated as empty and skipped, never partially
// consumed. When every candidate comes up empty the result is the
// empty dataset; absence of data is reported as absence, not papered
// over with placeholder values.
func ResolveSource(candidates ...Candidate) Dataset {
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		ds, err := candidate()
		if err != nil {
			continue
		}
		if !ds.Empty() {
			return ds
		}
	}
	return Dataset{}
}

// DecodeDataset shapes loosely typed rows, as decoded from JSON, into
// the dataset contract. Each row needs an id (under id, label, or name)
// and a value (under value or count); rawValue and percentage are
// carried when present, defaulting to the value and zero. Any row that
// breaks the shape rejects the whole input so a half-read source never
// masquerades as a good one.
func DecodeDataset(raw any) (Dataset, error) {
	if raw == nil {
		return Dataset{}, nil
	}

	var rows []any
	switch t := raw.(type) {
	case []any:
		rows = t
	case []map[string]any:
		rows = make([]any, len(t))
		for i, m := range t {
			rows[i] = m
		}
	case Dataset:
		return t, nil
	default:
		return nil, fmt.Errorf("dataset: unsupported shape %T", raw)
	}

	ds := make(Dataset, 0, len(rows))
	for i, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("dataset row %d: not an object", i)
		}
		id := firstString(m, "id", "label", "name")
		if id == "" {
			return nil, fmt.Errorf("dataset row %d: missing id", i)
		}
		value, ok := firstInt(m, "value", "count")
		if !ok {
			return nil, fmt.Errorf("dataset row %d: missing value", i)
		}
		raw, ok := firstInt(m, "rawValue", "raw_value")
		if !ok {
			raw = value
		}
		pct, _ := firstInt(m, "percentage")
		ds = append(ds, DatasetPoint{ID: id, Value: value, RawValue: raw, Percentage: pct})
	}
	return ds, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := stringify(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstInt(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n, ok := toInt(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
