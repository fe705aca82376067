package chatflow

import (
	"sort"
	"time"
)

// Row is a single time-indexed record in a Table.
type Row struct {
	Time   time.Time
	Values map[string]any
}

// Table is a minimal time-indexed tabular payload: named columns plus rows
// carrying a timestamp index. It covers what the step catalog needs
// (windowing, bucketed grouping, round-tripping through a resource body) and
// nothing more.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

// Append adds a row. Values should only use declared columns.
func (t *Table) Append(ts time.Time, values map[string]any) {
	t.Rows = append(t.Rows, Row{Time: ts, Values: values})
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// SortByTime orders rows ascending by their index, stably.
func (t *Table) SortByTime() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return t.Rows[i].Time.Before(t.Rows[j].Time)
	})
}

// Bounds returns the earliest and latest row timestamps. ok is false for an
// empty table.
func (t *Table) Bounds() (start, end time.Time, ok bool) {
	if len(t.Rows) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end = t.Rows[0].Time, t.Rows[0].Time
	for _, row := range t.Rows[1:] {
		if row.Time.Before(start) {
			start = row.Time
		}
		if row.Time.After(end) {
			end = row.Time
		}
	}
	return start, end, true
}

// Window returns a new table with the rows whose index falls in the
// closed-open interval [start, end). Row order is preserved.
func (t *Table) Window(start, end time.Time) *Table {
	out := NewTable(t.Columns...)
	for _, row := range t.Rows {
		if !row.Time.Before(start) && row.Time.Before(end) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}
