package chart

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crimson-sun/citypulse/internal/model"
)

func testSeries() model.Series {
	return model.Series{
		Name:     "cases",
		Interval: "D",
		Table: model.Table{
			TimeColumn: "Date",
			Columns:    []string{"NewConfCases", "NewDeaths"},
			Rows: []model.Row{
				{Timestamp: time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), Values: []float64{3, 0}},
				{Timestamp: time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC), Values: []float64{4, math.NaN()}},
			},
		},
	}
}

func TestRenderLines(t *testing.T) {
	var buf bytes.Buffer
	if err := (Renderer{}).Render(&buf, testSeries()); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	html := buf.String()
	for _, want := range []string{"<title>cases</title>", "NewConfCases", "NewDeaths", "2020-03-02", `"step":"end"`} {
		if !strings.Contains(html, want) {
			t.Errorf("expected page to contain %q", want)
		}
	}
	if strings.Contains(html, `"yAxisIndex":1`) {
		t.Error("lines chart should use a single y axis")
	}
}

func TestRenderDual(t *testing.T) {
	r := Renderer{Theme: "dark", Plots: map[string]Plot{"cases": {Kind: KindDual}}}
	var buf bytes.Buffer
	if err := r.Render(&buf, testSeries()); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	html := buf.String()
	if !strings.Contains(html, `"yAxisIndex":1`) {
		t.Error("expected secondary axis series")
	}
	if !strings.Contains(html, "dark") {
		t.Error("expected theme in page")
	}
}

func TestRenderErrors(t *testing.T) {
	cases := map[string]Plot{
		"dual one column": {Kind: KindDual, Columns: []string{"NewDeaths"}},
		"unknown column":  {Kind: KindLines, Columns: []string{"Total"}},
		"unknown kind":    {Kind: "pie"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			r := Renderer{Plots: map[string]Plot{"cases": p}}
			if err := r.Render(&bytes.Buffer{}, testSeries()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPlotForDefault(t *testing.T) {
	if p := (Renderer{}).PlotFor("anything"); p.Kind != KindLines {
		t.Fatalf("expected lines default, got %q", p.Kind)
	}
}

func TestOutputWritesPage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "charts")
	out, err := New(dir, Renderer{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	s := testSeries()
	s.Name = "cases vs counter"
	if err := out.Write(context.Background(), s); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	out.Close()

	path := filepath.Join(dir, "cases_vs_counter.html")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected page at %s: %v", path, err)
	}
	if got := out.Written(); len(got) != 1 || got[0] != path {
		t.Fatalf("Written() = %v", got)
	}
}
