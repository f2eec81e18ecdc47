// Package resample groups time-indexed rows into fixed calendar buckets.
package resample

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/crimson-sun/citypulse/internal/model"
)

type widthKind int

const (
	kindFixed widthKind = iota
	kindDay
	kindWeek
)

// Width is a bucket width. Label is what ends up in Series.Interval.
type Width struct {
	Label string
	kind  widthKind
	step  time.Duration
}

var (
	Daily  = Width{Label: "D", kind: kindDay}
	Weekly = Width{Label: "W", kind: kindWeek}
	Hourly = Width{Label: "H", kind: kindFixed, step: time.Hour}
)

// ParseWidth accepts D, W, H or a Go duration that evenly divides a day.
func ParseWidth(s string) (Width, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "D", "1D":
		return Daily, nil
	case "W", "W-SUN", "1W":
		return Weekly, nil
	case "H", "1H":
		return Hourly, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return Width{}, fmt.Errorf("resample: unknown width %q", s)
	}
	if d <= 0 || d > 24*time.Hour || (24*time.Hour)%d != 0 {
		return Width{}, fmt.Errorf("resample: width %s must divide 24h", d)
	}
	if d == 24*time.Hour {
		return Daily, nil
	}
	return Width{Label: d.String(), kind: kindFixed, step: d}, nil
}

// Span is the nominal length of one bucket, ignoring DST transitions.
func (w Width) Span() time.Duration {
	switch w.kind {
	case kindDay:
		return 24 * time.Hour
	case kindWeek:
		return 7 * 24 * time.Hour
	default:
		return w.step
	}
}

// Bucket returns the label of the bucket ts falls into.
//
// Daily buckets are calendar days in ts's location. Weekly buckets end on
// Sunday and are labelled by that Sunday's midnight; the whole Sunday belongs
// to the week it closes. Fixed buckets are aligned to local midnight.
func (w Width) Bucket(ts time.Time) time.Time {
	midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	switch w.kind {
	case kindDay:
		return midnight
	case kindWeek:
		days := (7 - int(midnight.Weekday())) % 7
		return midnight.AddDate(0, 0, days)
	default:
		return midnight.Add(ts.Sub(midnight).Truncate(w.step))
	}
}

func (w Width) String() string { return w.Label }

// Aggregator reduces the values of one bucket. Missing cells are passed in
// as NaN.
type Aggregator func(values []float64) float64

// Sum adds present values. A bucket with only missing cells sums to zero.
func Sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		if !math.IsNaN(v) {
			total += v
		}
	}
	return total
}

// Resample aggregates columns of t into width buckets. Only buckets that
// receive at least one row are emitted. A nil agg means Sum.
func Resample(t model.Table, columns []string, width Width, agg Aggregator) (model.Series, error) {
	if width.Label == "" {
		return model.Series{}, fmt.Errorf("resample: zero width")
	}
	if agg == nil {
		agg = Sum
	}
	if t.Len() == 0 {
		return model.Series{}, fmt.Errorf("resample: %w", model.ErrEmptySelection)
	}
	if len(columns) == 0 {
		columns = t.Columns
	}
	selected, err := t.Select(columns...)
	if err != nil {
		return model.Series{}, fmt.Errorf("resample: %w", err)
	}
	if !selected.IsSorted() {
		selected = selected.Sorted()
	}

	timeColumn := selected.TimeColumn
	if timeColumn == "" {
		timeColumn = "timestamp"
	}
	out := model.Series{
		Interval: width.Label,
		Table: model.Table{
			TimeColumn: timeColumn,
			Columns:    append([]string(nil), columns...),
		},
	}

	// Sorted input makes buckets contiguous except across DST folds, so
	// group by label and order labels afterwards.
	type bucket struct {
		label time.Time
		cells [][]float64
	}
	index := make(map[int64]*bucket)
	var order []*bucket
	for _, r := range selected.Rows {
		label := width.Bucket(r.Timestamp)
		key := label.UnixNano()
		b, ok := index[key]
		if !ok {
			b = &bucket{label: label, cells: make([][]float64, len(columns))}
			index[key] = b
			order = append(order, b)
		}
		for i, v := range r.Values {
			b.cells[i] = append(b.cells[i], v)
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].label.Before(order[j].label) })

	out.Rows = make([]model.Row, len(order))
	for i, b := range order {
		values := make([]float64, len(columns))
		for c := range columns {
			values[c] = agg(b.cells[c])
		}
		out.Rows[i] = model.Row{Timestamp: b.label, Values: values}
	}
	return out, nil
}

// Series resamples an existing series, keeping its name.
func Series(s model.Series, width Width, agg Aggregator) (model.Series, error) {
	out, err := Resample(s.Table, s.Columns, width, agg)
	if err != nil {
		return model.Series{}, err
	}
	out.Name = s.Name
	return out, nil
}
