package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/crimson-sun/citypulse/internal/connector/coerce"
	"github.com/crimson-sun/citypulse/internal/engine/dedup"
	"github.com/crimson-sun/citypulse/internal/engine/derive"
	"github.com/crimson-sun/citypulse/internal/engine/filter"
	"github.com/crimson-sun/citypulse/internal/engine/testdata"
	"github.com/crimson-sun/citypulse/internal/model"
)

// counterTable builds the flattened counter fixture without going through HTTP.
func counterTable(t *testing.T) model.Table {
	t.Helper()
	records, err := testdata.CounterRecords()
	if err != nil {
		t.Fatal(err)
	}
	table := model.Table{TimeColumn: "Timestamp", EntityColumn: "Name", Columns: []string{"In", "Out"}}
	for _, r := range records {
		ts, err := coerce.Timestamp(coerce.String(r["Timestamp"]), time.UTC)
		if err != nil {
			t.Fatal(err)
		}
		in, err := coerce.Float(r["In"])
		if err != nil {
			t.Fatal(err)
		}
		out, err := coerce.Float(r["Out"])
		if err != nil {
			t.Fatal(err)
		}
		table.Rows = append(table.Rows, model.Row{Timestamp: ts, Entity: coerce.String(r["Name"]), Values: []float64{in, out}})
	}
	return table
}

func counterPlan() Plan {
	return Plan{
		Derive:       &derive.Sum{Name: "Total", Columns: []string{"In", "Out"}},
		EntityColumn: "Name",
		Entity:       testdata.CounterEntity,
		Columns:      []string{"In", "Out", "Total"},
		Interval:     "D",
	}
}

func TestPrepareDailyScenario(t *testing.T) {
	s, err := New(nil).Prepare(counterTable(t), counterPlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Interval != "D" || s.TimeColumn != "Timestamp" {
		t.Fatalf("unexpected series header %q %q", s.Interval, s.TimeColumn)
	}
	if len(s.Columns) != 3 || s.Columns[2] != "Total" {
		t.Fatalf("unexpected columns %v", s.Columns)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 daily buckets, got %d", s.Len())
	}

	want := [][]float64{{3, 4, 7}, {0, 0, 0}}
	days := []time.Time{
		time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	for i := range want {
		if !s.Rows[i].Timestamp.Equal(days[i]) {
			t.Errorf("bucket %d at %v, want %v", i, s.Rows[i].Timestamp, days[i])
		}
		for c, v := range want[i] {
			if s.Rows[i].Values[c] != v {
				t.Errorf("bucket %d = %v, want %v", i, s.Rows[i].Values, want[i])
				break
			}
		}
	}
}

func TestPrepareDoesNotMutateInput(t *testing.T) {
	table := counterTable(t)
	rows := table.Len()
	if _, err := New(nil).Prepare(table, counterPlan()); err != nil {
		t.Fatal(err)
	}
	if table.Len() != rows || len(table.Columns) != 2 {
		t.Fatal("input table was mutated")
	}
}

func TestPrepareNoMatch(t *testing.T) {
	plan := counterPlan()
	plan.Entity = "ost-nord total"

	_, err := New(nil).Prepare(counterTable(t), plan)
	if !errors.Is(err, filter.ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
}

func TestPrepareAllowEmpty(t *testing.T) {
	plan := counterPlan()
	plan.Entity = "nobody"
	plan.AllowEmpty = true

	s, err := New(nil).Prepare(counterTable(t), plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 0 || s.Interval != "D" || len(s.Columns) != 3 {
		t.Fatalf("unexpected empty series %+v", s)
	}
}

func TestPrepareEmptyTable(t *testing.T) {
	empty := model.Table{TimeColumn: "Date", Columns: []string{"NewConfCases"}}
	_, err := New(nil).Prepare(empty, Plan{Interval: "D"})
	if !errors.Is(err, model.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestPrepareWithoutEntity(t *testing.T) {
	s, err := New(nil).Prepare(counterTable(t), Plan{Interval: "W"})
	if err != nil {
		t.Fatal(err)
	}
	// every entity contributes; 2020-03-01 is a Sunday and closes its own week
	if s.Len() != 2 {
		t.Fatalf("expected 2 weekly buckets, got %d", s.Len())
	}
	want := []struct {
		week time.Time
		in   float64
	}{
		{time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), 43},
		{time.Date(2020, 3, 8, 0, 0, 0, 0, time.UTC), 12},
	}
	for i, w := range want {
		if !s.Rows[i].Timestamp.Equal(w.week) || s.Rows[i].Values[0] != w.in {
			t.Errorf("week %d = %v In=%v, want %v In=%v", i, s.Rows[i].Timestamp, s.Rows[i].Values[0], w.week, w.in)
		}
	}
}

func TestPrepareDedup(t *testing.T) {
	table := counterTable(t)
	table.Rows = append(table.Rows, table.Rows[0])
	plan := counterPlan()

	s, err := New(nil).Prepare(table, plan)
	if err != nil {
		t.Fatal(err)
	}
	if s.Rows[0].Values[2] != 10 {
		t.Fatalf("expected duplicate to be summed without dedup, got %v", s.Rows[0].Values)
	}

	plan.Dedup = &dedup.Config{}
	s, err = New(nil).Prepare(table, plan)
	if err != nil {
		t.Fatal(err)
	}
	if s.Rows[0].Values[2] != 7 {
		t.Fatalf("expected duplicate dropped, got %v", s.Rows[0].Values)
	}
}

// Case rows from different age groups can share a date and counts.
func TestPrepareDedupRefusesTableWithoutEntity(t *testing.T) {
	day := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	table := model.Table{
		TimeColumn: "Date",
		Columns:    []string{"NewConfCases", "NewDeaths"},
		Rows: []model.Row{
			{Timestamp: day, Values: []float64{1, 0}},
			{Timestamp: day, Values: []float64{1, 0}},
			{Timestamp: day, Values: []float64{2, 1}},
		},
	}
	plan := Plan{Columns: []string{"NewConfCases", "NewDeaths"}, Interval: "D"}

	s, err := New(nil).Prepare(table, plan)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 || s.Rows[0].Values[0] != 4 || s.Rows[0].Values[1] != 1 {
		t.Fatalf("expected every case row summed, got %+v", s.Rows)
	}

	plan.Dedup = &dedup.Config{}
	if _, err := New(nil).Prepare(table, plan); !errors.Is(err, ErrDedupWithoutEntity) {
		t.Fatalf("expected ErrDedupWithoutEntity, got %v", err)
	}
}

func TestPrepareErrors(t *testing.T) {
	table := counterTable(t)
	cases := map[string]Plan{
		"bad interval":   {Interval: "fortnight"},
		"entity column":  {Interval: "D", EntityColumn: "Station"},
		"unknown column": {Interval: "D", Columns: []string{"Total"}},
		"derive":         {Interval: "D", Derive: &derive.Sum{Name: "Total", Columns: []string{"Up"}}},
	}
	for name, plan := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(nil).Prepare(table, plan); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
