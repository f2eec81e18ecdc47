package citypulse

import (
	"time"

	"github.com/crimson-sun/citypulse/internal/model"
)

// Point is one bucket of a Series. Values holds one entry per column.
type Point struct {
	Time   time.Time
	Values map[string]float64
}

// Series is a resampled feed, buckets ascending.
type Series struct {
	Name     string
	Interval string
	Columns  []string
	Points   []Point
}

// Value returns the value of column at bucket i, or NaN and false when absent.
func (s Series) Value(i int, column string) (float64, bool) {
	if i < 0 || i >= len(s.Points) {
		return nan, false
	}
	v, ok := s.Points[i].Values[column]
	if !ok {
		return nan, false
	}
	return v, true
}

func seriesFromModel(s model.Series) Series {
	out := Series{
		Name:     s.Name,
		Interval: s.Interval,
		Columns:  append([]string(nil), s.Columns...),
		Points:   make([]Point, len(s.Rows)),
	}
	for i, r := range s.Rows {
		vals := make(map[string]float64, len(s.Columns))
		for c, name := range s.Columns {
			vals[name] = r.Values[c]
		}
		out.Points[i] = Point{Time: r.Timestamp, Values: vals}
	}
	return out
}

func seriesToModel(s Series) model.Series {
	out := model.Series{
		Name:     s.Name,
		Interval: s.Interval,
		Table: model.Table{
			TimeColumn: "timestamp",
			Columns:    append([]string(nil), s.Columns...),
			Rows:       make([]model.Row, len(s.Points)),
		},
	}
	for i, p := range s.Points {
		vals := make([]float64, len(s.Columns))
		for c, name := range s.Columns {
			v, ok := p.Values[name]
			if !ok {
				v = nan
			}
			vals[c] = v
		}
		out.Rows[i] = model.Row{Timestamp: p.Time, Values: vals}
	}
	return out
}
