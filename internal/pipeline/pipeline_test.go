package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/citypulse/internal/connector"
	"github.com/crimson-sun/citypulse/internal/engine"
	"github.com/crimson-sun/citypulse/internal/engine/align"
	"github.com/crimson-sun/citypulse/internal/metrics"
	"github.com/crimson-sun/citypulse/internal/model"
)

// --- mocks ---

// mockConnector returns a fixed table, or err when set.
type mockConnector struct {
	table   model.Table
	err     error
	calls   int
	sample  []model.RawRecord
	lastCfg connector.SourceConfig
}

func (m *mockConnector) Fetch(_ context.Context, cfg connector.SourceConfig) (model.Table, error) {
	m.calls++
	m.lastCfg = cfg
	return m.table, m.err
}

type samplingConnector struct{ mockConnector }

func (s *samplingConnector) Sample(_ context.Context, _ connector.SourceConfig) ([]model.RawRecord, error) {
	return s.sample, s.err
}

// mockOutput records the series it receives.
type mockOutput struct {
	series []model.Series
	failOn string
	closed bool
}

func (m *mockOutput) Write(_ context.Context, s model.Series) error {
	if s.Name == m.failOn {
		return fmt.Errorf("mock: cannot write %q", s.Name)
	}
	m.series = append(m.series, s)
	return nil
}

func (m *mockOutput) Close() error {
	m.closed = true
	return nil
}

func lookupOf(conns map[string]connector.Connector) Lookup {
	return func(provider string) (connector.Connector, error) {
		c, ok := conns[provider]
		if !ok {
			return nil, fmt.Errorf("unknown connector provider: %s", provider)
		}
		return c, nil
	}
}

func dailyTable(column string, days map[int]float64) model.Table {
	t := model.Table{TimeColumn: "Date", Columns: []string{column}}
	for d := 1; d <= 31; d++ {
		if v, ok := days[d]; ok {
			t.Rows = append(t.Rows, model.Row{Timestamp: time.Date(2020, 3, d, 6, 0, 0, 0, time.UTC), Values: []float64{v}})
		}
	}
	return t
}

func jobs() []Job {
	return []Job{
		{Name: "cases", Provider: "a", Plan: engine.Plan{Interval: "D"}},
		{Name: "counter", Provider: "b", Plan: engine.Plan{Interval: "D"}},
	}
}

// --- tests ---

func TestRunWritesEachSeriesAndAlignment(t *testing.T) {
	a := &mockConnector{table: dailyTable("NewConfCases", map[int]float64{1: 3, 2: 4})}
	b := &mockConnector{table: dailyTable("Total", map[int]float64{2: 70, 3: 0})}
	out := &mockOutput{}
	p := New(engine.New(nil), out, WithLookup(lookupOf(map[string]connector.Connector{"a": a, "b": b})))

	res, err := p.Run(context.Background(), jobs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out.series) != 3 {
		t.Fatalf("expected 3 series written, got %d", len(out.series))
	}
	names := []string{out.series[0].Name, out.series[1].Name, out.series[2].Name}
	if names[0] != "cases" || names[1] != "counter" || names[2] != align.Name("cases", "counter") {
		t.Fatalf("unexpected series order %v", names)
	}
	if out.series[2].Len() != 3 {
		t.Fatalf("expected 3 aligned buckets, got %d", out.series[2].Len())
	}
	if len(res.Series) != 3 || res.RunID == uuid.Nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if a.lastCfg.Provider != "a" || a.lastCfg.Logger == nil {
		t.Fatalf("expected provider and logger filled in, got %+v", a.lastCfg)
	}
}

func TestRunSingleJobSkipsAlignment(t *testing.T) {
	a := &mockConnector{table: dailyTable("NewConfCases", map[int]float64{1: 3})}
	out := &mockOutput{}
	p := New(engine.New(nil), out, WithLookup(lookupOf(map[string]connector.Connector{"a": a})))

	if _, err := p.Run(context.Background(), jobs()[:1]); err != nil {
		t.Fatal(err)
	}
	if len(out.series) != 1 {
		t.Fatalf("expected 1 series, got %d", len(out.series))
	}
}

func TestRunWithoutAlignment(t *testing.T) {
	a := &mockConnector{table: dailyTable("x", map[int]float64{1: 3})}
	b := &mockConnector{table: dailyTable("y", map[int]float64{1: 3})}
	out := &mockOutput{}
	p := New(engine.New(nil), out, WithoutAlignment(), WithLookup(lookupOf(map[string]connector.Connector{"a": a, "b": b})))

	if _, err := p.Run(context.Background(), jobs()); err != nil {
		t.Fatal(err)
	}
	if len(out.series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(out.series))
	}
}

func TestRunWithInnerJoin(t *testing.T) {
	a := &mockConnector{table: dailyTable("NewConfCases", map[int]float64{1: 3, 2: 4})}
	b := &mockConnector{table: dailyTable("Total", map[int]float64{2: 70, 3: 0})}
	out := &mockOutput{}
	p := New(engine.New(nil), out, WithJoin(align.Inner), WithLookup(lookupOf(map[string]connector.Connector{"a": a, "b": b})))

	if _, err := p.Run(context.Background(), jobs()); err != nil {
		t.Fatal(err)
	}
	if len(out.series) != 3 {
		t.Fatalf("expected 3 series, got %d", len(out.series))
	}
	combined := out.series[2]
	if combined.Len() != 1 || combined.Rows[0].Timestamp.Day() != 2 {
		t.Fatalf("expected only the shared day, got %+v", combined.Rows)
	}
	if combined.Rows[0].Values[0] != 4 || combined.Rows[0].Values[1] != 70 {
		t.Fatalf("unexpected shared values %v", combined.Rows[0].Values)
	}
}

func TestRunWithNilJoin(t *testing.T) {
	a := &mockConnector{table: dailyTable("x", map[int]float64{1: 3})}
	b := &mockConnector{table: dailyTable("y", map[int]float64{1: 3})}
	out := &mockOutput{}
	p := New(engine.New(nil), out, WithJoin(nil), WithLookup(lookupOf(map[string]connector.Connector{"a": a, "b": b})))

	if _, err := p.Run(context.Background(), jobs()); err != nil {
		t.Fatal(err)
	}
	if len(out.series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(out.series))
	}
}

func TestRunFailsFastOnFetchError(t *testing.T) {
	a := &mockConnector{err: fmt.Errorf("%w: boom", model.ErrTransport)}
	b := &mockConnector{table: dailyTable("y", map[int]float64{1: 3})}
	out := &mockOutput{}
	m := metrics.New("test")
	p := New(engine.New(nil), out, WithMetrics(m), WithLookup(lookupOf(map[string]connector.Connector{"a": a, "b": b})))

	_, err := p.Run(context.Background(), jobs())
	if !errors.Is(err, model.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if b.calls != 0 {
		t.Fatal("second job must not run after a failure")
	}
	if len(out.series) != 0 {
		t.Fatalf("expected nothing written, got %d", len(out.series))
	}
}

func TestRunFailsOnEmptySelection(t *testing.T) {
	a := &mockConnector{table: model.Table{TimeColumn: "Date", Columns: []string{"x"}}}
	p := New(engine.New(nil), nil, WithLookup(lookupOf(map[string]connector.Connector{"a": a})))

	_, err := p.Run(context.Background(), jobs()[:1])
	if !errors.Is(err, model.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestRunOutputError(t *testing.T) {
	a := &mockConnector{table: dailyTable("x", map[int]float64{1: 3})}
	b := &mockConnector{table: dailyTable("y", map[int]float64{1: 3})}
	out := &mockOutput{failOn: "cases_vs_counter"}
	p := New(engine.New(nil), out, WithLookup(lookupOf(map[string]connector.Connector{"a": a, "b": b})))

	if _, err := p.Run(context.Background(), jobs()); err == nil {
		t.Fatal("expected output error")
	}
	if len(out.series) != 2 {
		t.Fatalf("expected the two source series written first, got %d", len(out.series))
	}
}

func TestRunUnknownProvider(t *testing.T) {
	p := New(engine.New(nil), nil, WithLookup(lookupOf(nil)))
	if _, err := p.Run(context.Background(), jobs()[:1]); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRunCancelledContext(t *testing.T) {
	a := &mockConnector{table: dailyTable("x", map[int]float64{1: 3})}
	p := New(engine.New(nil), nil, WithLookup(lookupOf(map[string]connector.Connector{"a": a})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, jobs()[:1]); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if a.calls != 0 {
		t.Fatal("connector must not be called after cancellation")
	}
}

func TestRunFixedRunID(t *testing.T) {
	id := uuid.MustParse("6f1c2b8e-4f0a-4a53-9d77-0c1e5b6a2d10")
	a := &mockConnector{table: dailyTable("x", map[int]float64{1: 3})}
	p := New(engine.New(nil), nil, WithRunID(id), WithLookup(lookupOf(map[string]connector.Connector{"a": a})))

	res, err := p.Run(context.Background(), jobs()[:1])
	if err != nil {
		t.Fatal(err)
	}
	if res.RunID != id {
		t.Fatalf("RunID = %s, want %s", res.RunID, id)
	}
}

func TestSample(t *testing.T) {
	s := &samplingConnector{mockConnector{sample: []model.RawRecord{{"Name": "x"}}}}
	plain := &mockConnector{}
	p := New(engine.New(nil), nil, WithLookup(lookupOf(map[string]connector.Connector{"a": s, "b": plain})))

	recs, err := p.Sample(context.Background(), Job{Provider: "a"})
	if err != nil || len(recs) != 1 {
		t.Fatalf("unexpected sample %v, %v", recs, err)
	}
	if _, err := p.Sample(context.Background(), Job{Provider: "b"}); err == nil {
		t.Fatal("expected error for connector without sampling")
	}
}

func TestCloseClosesOutput(t *testing.T) {
	out := &mockOutput{}
	if err := New(engine.New(nil), out).Close(); err != nil {
		t.Fatal(err)
	}
	if !out.closed {
		t.Fatal("expected output closed")
	}
	if err := New(engine.New(nil), nil).Close(); err != nil {
		t.Fatal(err)
	}
}
