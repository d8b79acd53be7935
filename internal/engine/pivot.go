package engine

import (
	"sort"
	"strings"
	"time"
)

const canonicalDateLayout = "2006-01-02"

// sessionDateLayouts are the timestamp formats accepted from upstream
// sources, tried in order.
var sessionDateLayouts = []string{
	canonicalDateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
}

// CanonicalDate reduces a session date string to YYYY-MM-DD so that
// equivalent timestamps with different formatting collapse into one
// pivot column. Unparseable strings pass through verbatim; they still
// group textually and sort after the canonical dates.
func CanonicalDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range sessionDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(canonicalDateLayout)
		}
	}
	return s
}

func isCanonicalDate(s string) bool {
	_, err := time.Parse(canonicalDateLayout, s)
	return err == nil
}

// BuildPivot converts events into a row by session-date count matrix.
// Rows appear in first-encounter order; columns are canonical dates
// sorted ascending. Events with no value for the row field or no
// session date are skipped. Rows retain membership even when every cell
// later filters to zero; callers slice for rendering.
func BuildPivot(events []ClinicalEvent, rowField RowField) PivotMatrix {
	m := PivotMatrix{
		Rows:    []string{},
		Columns: []string{},
		Cells:   make(map[string]map[string]int),
	}

	colSeen := make(map[string]bool)
	for _, e := range events {
		row := rowValue(e, rowField)
		if row == "" {
			continue
		}
		col := CanonicalDate(e.SessionDate)
		if col == "" {
			continue
		}
		if _, ok := m.Cells[row]; !ok {
			m.Cells[row] = make(map[string]int)
			m.Rows = append(m.Rows, row)
		}
		m.Cells[row][col]++
		if !colSeen[col] {
			colSeen[col] = true
			m.Columns = append(m.Columns, col)
		}
	}

	sort.Slice(m.Columns, func(i, j int) bool {
		return columnLess(m.Columns[i], m.Columns[j])
	})

	m.MaxValue = 1
	for _, row := range m.Cells {
		for _, v := range row {
			if v > m.MaxValue {
				m.MaxValue = v
			}
		}
	}
	return m
}

func columnLess(a, b string) bool {
	ad, bd := isCanonicalDate(a), isCanonicalDate(b)
	if ad != bd {
		return ad
	}
	return a < b
}

func rowValue(e ClinicalEvent, rowField RowField) string {
	switch rowField {
	case RowDiagnosis:
		if e.Diagnosis != "" {
			return e.Diagnosis
		}
		if e.Kind == KindDiagnosis {
			return e.Label
		}
		return ""
	case RowDiagnosticCategory:
		if e.DiagnosticCategory != "" {
			return e.DiagnosticCategory
		}
		if e.Kind == KindDiagnosticCategory {
			return e.Label
		}
		return ""
	default:
		return e.Label
	}
}

// RowTotals sums each row of the matrix, keyed by row label.
func RowTotals(m PivotMatrix) map[string]int {
	totals := make(map[string]int, len(m.Rows))
	for _, row := range m.Rows {
		totals[row] = m.RowTotal(row)
	}
	return totals
}
