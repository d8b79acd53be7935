package engine

import (
	"fmt"
	"math"
)

// TierThresholds is the single configurable cutoff table for color tier
// assignment. Values are compared against the classification score and
// must be strictly descending within (0, 1). Themes select palettes,
// never thresholds.
type TierThresholds struct {
	Highest float64 `json:"highest" yaml:"highest"`
	High    float64 `json:"high" yaml:"high"`
	Medium  float64 `json:"medium" yaml:"medium"`
	Low     float64 `json:"low" yaml:"low"`
}

// DefaultTierThresholds returns the standard five-tier cutoffs.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Highest: 0.80, High: 0.60, Medium: 0.40, Low: 0.20}
}

// Validate checks that the thresholds are usable for tier assignment.
func (t TierThresholds) Validate() error {
	vals := []float64{t.Highest, t.High, t.Medium, t.Low}
	for i, v := range vals {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("tier threshold %.2f out of range (0, 1)", v)
		}
		if i > 0 && v >= vals[i-1] {
			return fmt.Errorf("tier thresholds must be strictly descending")
		}
	}
	return nil
}

// Classify emits one point per non-zero matrix cell, carrying the row's
// frequency and a color tier derived from the cell intensity.
//
// The score is max(normalized, logScaled) where normalized is the cell
// value over the matrix maximum clamped to [0, 1], and logScaled is
// ln(1 + normalized*9) / ln(10). Clinical frequency data is heavily
// right-skewed, so the log rescaling spreads the crowded low end across
// more tiers; taking the max keeps a cell that is already large on the
// linear scale from being demoted by the transform.
//
// Points are ordered row-major, following the matrix row and column
// order. A zero-value thresholds struct falls back to the defaults.
func Classify(m PivotMatrix, th TierThresholds) []ClassifiedPoint {
	if th == (TierThresholds{}) {
		th = DefaultTierThresholds()
	}

	points := []ClassifiedPoint{}
	for _, row := range m.Rows {
		freq := 0
		for _, col := range m.Columns {
			if m.Cell(row, col) > 0 {
				freq++
			}
		}
		for _, col := range m.Columns {
			intensity := m.Cell(row, col)
			if intensity == 0 {
				continue
			}
			points = append(points, ClassifiedPoint{
				RowLabel:    row,
				ColumnLabel: col,
				Intensity:   intensity,
				Frequency:   freq,
				ColorTier:   tierFor(intensity, m.MaxValue, th),
			})
		}
	}
	return points
}

func tierFor(intensity, maxValue int, th TierThresholds) ColorTier {
	if maxValue <= 0 {
		maxValue = 1
	}
	normalized := float64(intensity) / float64(maxValue)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	logScaled := math.Log(1+normalized*9) / math.Log(10)

	score := normalized
	if logScaled > score {
		score = logScaled
	}

	switch {
	case score >= th.Highest:
		return TierHighest
	case score >= th.High:
		return TierHigh
	case score >= th.Medium:
		return TierMedium
	case score >= th.Low:
		return TierLow
	default:
		return TierLowest
	}
}
