package engine

import (
	"math"
	"sort"
)

// Project converts a raw count for display. Count mode is the
// identity; percentage mode returns round(100 * value / total), or 0
// when the total is zero. Callers must always project from the
// authoritative raw count. Projected values are never fed back in,
// which is why every output record carries its RawValue.
func Project(value, total int, mode DisplayMode) int {
	if mode != ModePercentage {
		return value
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(value) / float64(total)))
}

// BuildDataset turns per-category raw totals into an ordered chart
// dataset. Points are sorted descending by raw count with an ascending
// id tiebreak, so switching display modes never reorders categories.
// A categoryCount above zero truncates to the top N after sorting.
func BuildDataset(totals map[string]int, total int, mode DisplayMode, categoryCount int) Dataset {
	ds := make(Dataset, 0, len(totals))
	for id, raw := range totals {
		ds = append(ds, DatasetPoint{
			ID:         id,
			Value:      Project(raw, total, mode),
			RawValue:   raw,
			Percentage: Project(raw, total, ModePercentage),
		})
	}
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].RawValue != ds[j].RawValue {
			return ds[i].RawValue > ds[j].RawValue
		}
		return ds[i].ID < ds[j].ID
	})
	if categoryCount > 0 && len(ds) > categoryCount {
		ds = ds[:categoryCount]
	}
	return ds
}
