// Package dataset provides the tabular input model shared by every
// detector: raw string-celled tables, canonical field resolution, and
// value coercion. Datasets are immutable once built; detectors derive
// typed views and never mutate rows.
package dataset

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Dataset is an in-memory table: ordered column names plus rows of raw
// string cells. Cells are coerced on extraction, not on load, so a
// malformed value drops a row from one detector's view without
// corrupting another's.
type Dataset struct {
	columns []string
	index   map[string]int // lower-cased column name -> position
	rows    [][]string
}

// New builds a Dataset from column names and rows. Rows shorter than
// the header are padded with empty cells; longer rows are truncated.
func New(columns []string, rows [][]string) *Dataset {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[strings.ToLower(strings.TrimSpace(c))] = i
	}

	normalized := make([][]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == len(columns) {
			normalized = append(normalized, row)
			continue
		}
		fixed := make([]string, len(columns))
		copy(fixed, row)
		normalized = append(normalized, fixed)
	}

	return &Dataset{columns: columns, index: index, rows: normalized}
}

// Columns returns the column names in order.
func (d *Dataset) Columns() []string {
	if d == nil {
		return nil
	}
	return d.columns
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.rows)
}

// Empty reports whether the dataset is nil or has no rows.
func (d *Dataset) Empty() bool {
	return d.Len() == 0
}

// Cell returns the raw cell at (row, column position).
func (d *Dataset) Cell(row, col int) string {
	if row < 0 || row >= len(d.rows) || col < 0 || col >= len(d.columns) {
		return ""
	}
	return d.rows[row][col]
}

// column returns the position for an exact column name, -1 if absent.
func (d *Dataset) column(name string) int {
	if d == nil {
		return -1
	}
	if i, ok := d.index[strings.ToLower(strings.TrimSpace(name))]; ok {
		return i
	}
	return -1
}

// Timestamp layouts tried in order during coercion. Dates without a
// time component normalize to midnight.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseTime coerces a raw cell to a timestamp. The ok result is false
// for empty or unparseable values; callers drop those rows.
func ParseTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseAmount coerces a raw cell to a signed amount. Currency symbols,
// commas, and surrounding whitespace are stripped; parsing goes
// through decimal so values like "9999.99" survive exactly.
func ParseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	if strings.HasPrefix(s, "-$") {
		s = "-" + s[2:]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// ParseDecimal coerces a raw cell to an exact decimal amount. Used
// where divisibility matters (round-number checks).
func ParseDecimal(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseBoolish interprets success/failure style cells: "1", "true",
// "success", "ok", and "y" count as true.
func ParseBoolish(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "success", "succeeded", "ok", "y", "yes":
		return true
	}
	return false
}
