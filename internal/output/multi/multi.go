package multi

import (
	"context"
	"errors"

	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/output"
)

// Multi fans out series to multiple output.Output implementations.
// Each Write call delivers the series to every wrapped output sequentially.
// If one output fails, the remaining outputs still receive the series.
type Multi struct {
	outputs []output.Output
}

// New creates a Multi that fans out to the given outputs.
func New(outputs ...output.Output) *Multi {
	return &Multi{outputs: outputs}
}

// Len reports how many outputs are wrapped.
func (m *Multi) Len() int { return len(m.outputs) }

// Write delivers the series to every wrapped output. Errors are collected
// but do not prevent delivery to subsequent outputs.
func (m *Multi) Write(ctx context.Context, series model.Series) error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Write(ctx, series); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on every wrapped output, collecting errors.
func (m *Multi) Close() error {
	var errs []error
	for _, o := range m.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
