package model

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Row is one time-stamped observation. Values are aligned with the
// owning Table's Columns.
type Row struct {
	Timestamp time.Time
	Entity    string
	Values    []float64
}

// Table is an ordered collection of rows sharing one measure schema.
// TimeColumn names the visible timestamp column; the same instant is kept on
// every Row so the table can be grouped without a separate index.
// Tables are treated as values: every method returns a new Table.
type Table struct {
	TimeColumn   string
	EntityColumn string
	Columns      []string
	Rows         []Row
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Column returns the position of a measure column.
func (t Table) Column(name string) (int, bool) {
	for i, c := range t.Columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	out := Table{
		TimeColumn:   t.TimeColumn,
		EntityColumn: t.EntityColumn,
		Columns:      append([]string(nil), t.Columns...),
		Rows:         make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = Row{
			Timestamp: r.Timestamp,
			Entity:    r.Entity,
			Values:    append([]float64(nil), r.Values...),
		}
	}
	return out
}

// IsSorted reports whether timestamps are non-decreasing.
func (t Table) IsSorted() bool {
	return sort.SliceIsSorted(t.Rows, func(i, j int) bool {
		return t.Rows[i].Timestamp.Before(t.Rows[j].Timestamp)
	})
}

// Sorted returns a copy ordered by timestamp ascending. The sort is stable so
// rows sharing a timestamp keep their source order.
func (t Table) Sorted() Table {
	out := t.Clone()
	sort.SliceStable(out.Rows, func(i, j int) bool {
		return out.Rows[i].Timestamp.Before(out.Rows[j].Timestamp)
	})
	return out
}

// Select returns a copy restricted to the named measure columns, in the given order.
func (t Table) Select(columns ...string) (Table, error) {
	idx := make([]int, len(columns))
	for i, name := range columns {
		pos, ok := t.Column(name)
		if !ok {
			return Table{}, fmt.Errorf("select: unknown column %q", name)
		}
		idx[i] = pos
	}

	out := Table{
		TimeColumn:   t.TimeColumn,
		EntityColumn: t.EntityColumn,
		Columns:      append([]string(nil), columns...),
		Rows:         make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		vals := make([]float64, len(idx))
		for j, pos := range idx {
			vals[j] = r.Values[pos]
		}
		out.Rows[i] = Row{Timestamp: r.Timestamp, Entity: r.Entity, Values: vals}
	}
	return out, nil
}

// WithColumn returns a copy with one more measure column appended.
func (t Table) WithColumn(name string, values []float64) (Table, error) {
	if _, exists := t.Column(name); exists {
		return Table{}, fmt.Errorf("with column: %q already exists", name)
	}
	if len(values) != len(t.Rows) {
		return Table{}, fmt.Errorf("with column: %d values for %d rows", len(values), len(t.Rows))
	}
	out := t.Clone()
	out.Columns = append(out.Columns, name)
	for i := range out.Rows {
		out.Rows[i].Values = append(out.Rows[i].Values, values[i])
	}
	return out, nil
}

// Filter returns a copy holding only the rows for which keep returns true.
func (t Table) Filter(keep func(Row) bool) Table {
	out := Table{
		TimeColumn:   t.TimeColumn,
		EntityColumn: t.EntityColumn,
		Columns:      append([]string(nil), t.Columns...),
		Rows:         make([]Row, 0, len(t.Rows)),
	}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, Row{
				Timestamp: r.Timestamp,
				Entity:    r.Entity,
				Values:    append([]float64(nil), r.Values...),
			})
		}
	}
	return out
}

// Times returns the timestamp of every row.
func (t Table) Times() []time.Time {
	out := make([]time.Time, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Timestamp
	}
	return out
}

// Values returns one measure column. NaN marks cells with no value.
func (t Table) Values(column string) ([]float64, error) {
	pos, ok := t.Column(column)
	if !ok {
		return nil, fmt.Errorf("values: unknown column %q", column)
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[pos]
	}
	return out, nil
}

// Missing reports whether a cell carries no value.
func Missing(v float64) bool { return math.IsNaN(v) }
