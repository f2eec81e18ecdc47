// Package align joins two resampled series on their bucket timestamps.
package align

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/crimson-sun/citypulse/internal/model"
)

// ErrIntervalMismatch is returned when the series were resampled at different widths.
var ErrIntervalMismatch = errors.New("align: interval mismatch")

// Join combines two series into one.
type Join func(a, b model.Series) (model.Series, error)

// ParseJoin maps "outer" or "inner" to its Join. "none" yields nil.
func ParseJoin(s string) (Join, error) {
	switch s {
	case "", "outer":
		return Outer, nil
	case "inner":
		return Inner, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("align: unknown join %q", s)
	}
}

// Name is the name given to the aligned series of a and b.
func Name(a, b string) string { return a + "_vs_" + b }

// Outer joins a and b on the union of their buckets. Cells with no source
// value are NaN.
func Outer(a, b model.Series) (model.Series, error) {
	return join(a, b, false)
}

// Inner joins a and b on the buckets they share.
func Inner(a, b model.Series) (model.Series, error) {
	return join(a, b, true)
}

func join(a, b model.Series, inner bool) (model.Series, error) {
	if a.Interval != b.Interval {
		return model.Series{}, fmt.Errorf("%w: %s is %q, %s is %q", ErrIntervalMismatch, a.Name, a.Interval, b.Name, b.Interval)
	}

	aCols, bCols := columnNames(a, b)
	width := len(aCols) + len(bCols)

	type cell struct {
		ts     time.Time
		values []float64
		hits   int
	}
	index := make(map[int64]*cell)
	place := func(s model.Series, offset int) {
		for _, r := range s.Rows {
			key := r.Timestamp.UnixNano()
			c, ok := index[key]
			if !ok {
				c = &cell{ts: r.Timestamp, values: make([]float64, width)}
				for i := range c.values {
					c.values[i] = math.NaN()
				}
				index[key] = c
			}
			copy(c.values[offset:], r.Values)
			c.hits++
		}
	}
	place(a, 0)
	place(b, len(aCols))

	cells := make([]*cell, 0, len(index))
	for _, c := range index {
		if inner && c.hits < 2 {
			continue
		}
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].ts.Before(cells[j].ts) })

	out := model.Series{
		Name:     Name(a.Name, b.Name),
		Interval: a.Interval,
		Table: model.Table{
			TimeColumn: a.IndexName(),
			Columns:    append(aCols, bCols...),
			Rows:       make([]model.Row, len(cells)),
		},
	}
	for i, c := range cells {
		out.Rows[i] = model.Row{Timestamp: c.ts, Values: c.values}
	}
	return out, nil
}

// columnNames prefixes columns present in both series with "<series>.".
func columnNames(a, b model.Series) ([]string, []string) {
	inB := make(map[string]bool, len(b.Columns))
	for _, c := range b.Columns {
		inB[c] = true
	}
	inA := make(map[string]bool, len(a.Columns))
	for _, c := range a.Columns {
		inA[c] = true
	}

	aCols := make([]string, len(a.Columns))
	for i, c := range a.Columns {
		if inB[c] {
			c = a.Name + "." + c
		}
		aCols[i] = c
	}
	bCols := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		if inA[c] {
			c = b.Name + "." + c
		}
		bCols[i] = c
	}
	return aCols, bCols
}
