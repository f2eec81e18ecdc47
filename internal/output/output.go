package output

import (
	"context"

	"github.com/crimson-sun/citypulse/internal/model"
)

// Output defines the interface for resampled series destinations.
type Output interface {
	Write(ctx context.Context, series model.Series) error
	Close() error
}
