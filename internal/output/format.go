package output

import (
	"math"
	"strconv"
	"time"

	"github.com/crimson-sun/citypulse/internal/model"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// Point is one bucket of a Document. Missing cells encode as null.
type Point struct {
	Timestamp time.Time           `json:"timestamp"`
	Values    map[string]*float64 `json:"values"`
}

// Document is the JSON shape of a series shared by the stdout, webhook and
// HTTP outputs.
type Document struct {
	Name       string   `json:"name"`
	Interval   string   `json:"interval"`
	TimeColumn string   `json:"time_column"`
	Columns    []string `json:"columns"`
	Points     []Point  `json:"points"`
}

// ToDocument converts a series to its JSON shape.
func ToDocument(s model.Series) Document {
	doc := Document{
		Name:       s.Name,
		Interval:   s.Interval,
		TimeColumn: s.IndexName(),
		Columns:    append([]string{}, s.Columns...),
		Points:     make([]Point, len(s.Rows)),
	}
	for i, r := range s.Rows {
		vals := make(map[string]*float64, len(s.Columns))
		for c, name := range s.Columns {
			if v := r.Values[c]; !math.IsNaN(v) {
				vals[name] = &v
			} else {
				vals[name] = nil
			}
		}
		doc.Points[i] = Point{Timestamp: r.Timestamp, Values: vals}
	}
	return doc
}

// Header returns the tabular header: the bucket index, the measure columns,
// then the visible time column.
func Header(s model.Series) []string {
	h := make([]string, 0, len(s.Columns)+2)
	h = append(h, s.IndexName())
	h = append(h, s.Columns...)
	return append(h, s.IndexName())
}

// Records renders each bucket as strings matching Header. Missing cells
// are empty strings.
func Records(s model.Series) [][]string {
	layout := TimeLayout(s)
	out := make([][]string, len(s.Rows))
	for i, r := range s.Rows {
		ts := r.Timestamp.Format(layout)
		rec := make([]string, 0, len(r.Values)+2)
		rec = append(rec, ts)
		for _, v := range r.Values {
			rec = append(rec, FormatValue(v))
		}
		out[i] = append(rec, ts)
	}
	return out
}

// TimeLayout picks a date-only layout when every bucket falls on midnight.
func TimeLayout(s model.Series) string {
	for _, r := range s.Rows {
		h, m, sec := r.Timestamp.Clock()
		if h != 0 || m != 0 || sec != 0 || r.Timestamp.Nanosecond() != 0 {
			return dateTimeLayout
		}
	}
	return dateLayout
}

// FormatValue renders a cell using the shortest exact representation.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Labels returns the formatted bucket timestamps, for chart axes.
func Labels(s model.Series) []string {
	layout := TimeLayout(s)
	out := make([]string, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r.Timestamp.Format(layout)
	}
	return out
}
