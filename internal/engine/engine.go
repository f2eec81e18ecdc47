package engine

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/crimson-sun/citypulse/internal/engine/dedup"
	"github.com/crimson-sun/citypulse/internal/engine/derive"
	"github.com/crimson-sun/citypulse/internal/engine/filter"
	"github.com/crimson-sun/citypulse/internal/engine/resample"
	"github.com/crimson-sun/citypulse/internal/logging"
	"github.com/crimson-sun/citypulse/internal/model"
)

// ErrDedupWithoutEntity is returned when a plan asks to deduplicate a table
// whose rows carry no entity.
var ErrDedupWithoutEntity = errors.New("engine: dedup needs an entity column")

// Plan describes how one source table becomes a series.
type Plan struct {
	// Derive adds a computed column before filtering. Optional.
	Derive *derive.Sum
	// EntityColumn, when set, must match the table's entity column.
	EntityColumn string
	// Entity keeps only rows with this exact entity. Empty means no filter.
	Entity string
	// Columns to keep, in order. Empty keeps every column.
	Columns []string
	// Interval is a resample width accepted by resample.ParseWidth.
	Interval string
	// AllowEmpty turns an empty selection into an empty series instead of an error.
	AllowEmpty bool
	// Dedup drops repeated rows before anything else. Optional. Only
	// tables with an entity column can be deduplicated: without one,
	// distinct source rows that happen to share a date and values would
	// collapse.
	Dedup *dedup.Config
}

// Engine orchestrates the derive → filter → select → sort → resample chain.
type Engine struct {
	logger logrus.FieldLogger
}

// New creates an Engine. A nil logger discards output.
func New(logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{logger: logger}
}

// Prepare turns a source table into a resampled series with sum
// aggregation. The returned series has no name; callers set it.
func (e *Engine) Prepare(table model.Table, plan Plan) (model.Series, error) {
	width, err := resample.ParseWidth(plan.Interval)
	if err != nil {
		return model.Series{}, err
	}
	if plan.EntityColumn != "" && table.EntityColumn != "" && plan.EntityColumn != table.EntityColumn {
		return model.Series{}, fmt.Errorf("engine: entity column %q, table has %q", plan.EntityColumn, table.EntityColumn)
	}

	t := table
	if plan.Dedup != nil {
		if table.EntityColumn == "" {
			return model.Series{}, ErrDedupWithoutEntity
		}
		var dropped int
		t, dropped = dedup.New(*plan.Dedup).Table(t)
		if dropped > 0 {
			e.logger.WithField("dropped", dropped).Debug("duplicate rows removed")
		}
	}

	if plan.Derive != nil {
		if t, err = plan.Derive.Apply(t); err != nil {
			return model.Series{}, err
		}
	}

	if plan.Entity != "" {
		filtered, err := filter.Entity(t, plan.Entity)
		if err != nil && !(plan.AllowEmpty && errors.Is(err, model.ErrEmptySelection)) {
			return model.Series{}, err
		}
		t = filtered
	}

	columns := plan.Columns
	if len(columns) == 0 {
		columns = t.Columns
	}
	if t, err = t.Select(columns...); err != nil {
		return model.Series{}, fmt.Errorf("engine: %w", err)
	}

	if t.Len() == 0 {
		if plan.AllowEmpty {
			e.logger.Warn("empty selection, producing empty series")
			return emptySeries(t, width), nil
		}
		return model.Series{}, fmt.Errorf("engine: %w", model.ErrEmptySelection)
	}

	series, err := resample.Resample(t.Sorted(), columns, width, resample.Sum)
	if err != nil {
		return model.Series{}, err
	}
	e.logger.WithFields(logging.Fields{
		"rows":     t.Len(),
		"buckets":  series.Len(),
		"interval": series.Interval,
	}).Debug("table resampled")
	return series, nil
}

func emptySeries(t model.Table, width resample.Width) model.Series {
	s := model.Series{
		Interval: width.Label,
		Table: model.Table{
			TimeColumn: t.TimeColumn,
			Columns:    append([]string(nil), t.Columns...),
		},
	}
	s.TimeColumn = s.IndexName()
	return s
}
