package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/output"
)

// Output writes JSON-encoded series to stdout, one document per series.
type Output struct {
	enc *json.Encoder
}

// New creates an Output writing to w, with optional pretty-printed JSON.
// A nil w writes to os.Stdout.
func New(w io.Writer, pretty bool) *Output {
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return &Output{enc: enc}
}

func (o *Output) Write(_ context.Context, series model.Series) error {
	if err := o.enc.Encode(output.ToDocument(series)); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	return nil
}
