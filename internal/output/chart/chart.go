// Package chart renders series as interactive HTML step charts.
package chart

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/output"
)

// Kind selects the chart layout.
type Kind string

const (
	// KindLines draws every selected column as a step line on one y axis.
	KindLines Kind = "lines"
	// KindDual draws two columns against a primary and a secondary y axis.
	KindDual Kind = "dual"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Plot describes how one series is drawn. Empty Columns means every
// column for KindLines, and the first and last column for KindDual.
type Plot struct {
	Kind    Kind
	Columns []string
}

// Renderer turns series into HTML pages.
type Renderer struct {
	Theme  string
	Width  int
	Height int
	// Plots overrides the layout per series name. Unlisted series use KindLines.
	Plots map[string]Plot
}

// PlotFor returns the layout used for a series name.
func (r Renderer) PlotFor(name string) Plot {
	if p, ok := r.Plots[name]; ok {
		return p
	}
	return Plot{Kind: KindLines}
}

// Render writes the HTML page for s.
func (r Renderer) Render(w io.Writer, s model.Series) error {
	line, err := r.build(s, r.PlotFor(s.Name))
	if err != nil {
		return err
	}
	return line.Render(w)
}

func (r Renderer) build(s model.Series, p Plot) (*charts.Line, error) {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: s.Name,
			Theme:     r.theme(),
			Width:     px(r.Width, 1200),
			Height:    px(r.Height, 600),
		}),
		charts.WithTitleOpts(opts.Title{Title: s.Name, Subtitle: "interval " + s.Interval}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: s.IndexName(), Type: "category"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(output.Labels(s))

	switch p.Kind {
	case KindDual:
		primary, secondary, err := dualColumns(s, p.Columns)
		if err != nil {
			return nil, err
		}
		line.SetGlobalOptions(charts.WithYAxisOpts(opts.YAxis{Name: primary, Type: "value"}))
		line.ExtendYAxis(opts.YAxis{Name: secondary, Type: "value"})
		if err := addStep(line, s, primary, 0); err != nil {
			return nil, err
		}
		if err := addStep(line, s, secondary, 1); err != nil {
			return nil, err
		}
	case KindLines, "":
		columns := p.Columns
		if len(columns) == 0 {
			columns = s.Columns
		}
		for _, c := range columns {
			if err := addStep(line, s, c, 0); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("chart: unknown kind %q", p.Kind)
	}
	return line, nil
}

func (r Renderer) theme() string {
	if r.Theme == "" {
		return "white"
	}
	return r.Theme
}

func dualColumns(s model.Series, columns []string) (string, string, error) {
	switch {
	case len(columns) == 2:
		return columns[0], columns[1], nil
	case len(columns) == 0 && len(s.Columns) >= 2:
		return s.Columns[0], s.Columns[len(s.Columns)-1], nil
	default:
		return "", "", fmt.Errorf("chart: dual plot of %q needs two columns", s.Name)
	}
}

// addStep adds column as a step line. Missing cells become "-", which the
// chart library draws as a gap.
func addStep(line *charts.Line, s model.Series, column string, axis int) error {
	values, err := s.Values(column)
	if err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			data[i] = opts.LineData{Value: "-"}
			continue
		}
		data[i] = opts.LineData{Value: v}
	}
	line.AddSeries(column, data, charts.WithLineChartOpts(opts.LineChart{
		Step:         "end",
		YAxisIndex:   axis,
		ShowSymbol:   opts.Bool(true),
		ConnectNulls: opts.Bool(false),
	}))
	return nil
}

func px(v, fallback int) string {
	if v <= 0 {
		v = fallback
	}
	return fmt.Sprintf("%dpx", v)
}

// Output writes one HTML page per series into a directory.
type Output struct {
	mu       sync.Mutex
	dir      string
	renderer Renderer
	written  []string
}

// New creates a chart output rooted at dir, creating it if needed.
func New(dir string, renderer Renderer) (*Output, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chart output: create %s: %w", dir, err)
	}
	return &Output{dir: dir, renderer: renderer}, nil
}

// Path returns the page path for a series name.
func (o *Output) Path(name string) string {
	if name == "" {
		name = "series"
	}
	return filepath.Join(o.dir, unsafeName.ReplaceAllString(name, "_")+".html")
}

func (o *Output) Write(_ context.Context, series model.Series) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	path := o.Path(series.Name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chart output: open %s: %w", path, err)
	}
	if err := o.renderer.Render(f, series); err != nil {
		f.Close()
		return fmt.Errorf("chart output: render %s: %w", series.Name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("chart output: close %s: %w", path, err)
	}
	o.written = append(o.written, path)
	return nil
}

// Written lists the pages produced so far.
func (o *Output) Written() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.written...)
}

func (o *Output) Close() error {
	return nil
}
