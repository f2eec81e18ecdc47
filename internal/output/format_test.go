package output

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/crimson-sun/citypulse/internal/model"
)

func baseSeries() model.Series {
	return model.Series{
		Name:     "counter",
		Interval: "D",
		Table: model.Table{
			TimeColumn: "Timestamp",
			Columns:    []string{"In", "Out", "Total"},
			Rows: []model.Row{
				{Timestamp: time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), Values: []float64{3, 4, 7}},
				{Timestamp: time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC), Values: []float64{0.5, math.NaN(), 0}},
			},
		},
	}
}

func TestHeader(t *testing.T) {
	got := strings.Join(Header(baseSeries()), ",")
	if got != "Timestamp,In,Out,Total,Timestamp" {
		t.Fatalf("unexpected header %q", got)
	}
}

func TestRecordsDateOnly(t *testing.T) {
	recs := Records(baseSeries())
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if got := strings.Join(recs[0], ","); got != "2020-03-01,3,4,7,2020-03-01" {
		t.Fatalf("unexpected record %q", got)
	}
	if got := strings.Join(recs[1], ","); got != "2020-03-02,0.5,,0,2020-03-02" {
		t.Fatalf("unexpected record %q", got)
	}
}

func TestRecordsWithClock(t *testing.T) {
	s := baseSeries()
	s.Rows[1].Timestamp = s.Rows[1].Timestamp.Add(15 * time.Minute)
	if got := Records(s)[1][0]; got != "2020-03-02 00:15:00" {
		t.Fatalf("unexpected timestamp %q", got)
	}
}

func TestIndexNameFallback(t *testing.T) {
	s := baseSeries()
	s.TimeColumn = ""
	if h := Header(s); h[0] != "timestamp" {
		t.Fatalf("expected fallback index name, got %q", h[0])
	}
}

func TestDocumentJSON(t *testing.T) {
	data, err := json.Marshal(ToDocument(baseSeries()))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if m["name"] != "counter" || m["interval"] != "D" || m["time_column"] != "Timestamp" {
		t.Fatalf("unexpected document header: %v", m)
	}
	points := m["points"].([]any)
	second := points[1].(map[string]any)["values"].(map[string]any)
	if second["Out"] != nil {
		t.Fatalf("expected null for missing cell, got %v", second["Out"])
	}
	if second["In"] != 0.5 {
		t.Fatalf("expected In=0.5, got %v", second["In"])
	}
}

func TestLabels(t *testing.T) {
	labels := Labels(baseSeries())
	if len(labels) != 2 || labels[1] != "2020-03-02" {
		t.Fatalf("unexpected labels %v", labels)
	}
}
