package file

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/output"
)

const dateLayout = "2006-01-02"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Option configures a file Output.
type Option func(*Output)

// WithClock overrides the clock used to date snapshot files.
func WithClock(now func() time.Time) Option {
	return func(o *Output) { o.now = now }
}

// Output writes one CSV snapshot per series into a directory, named
// <series>_<YYYY-MM-DD>.csv after the current calendar date. A second write
// of the same series on the same day replaces the file.
type Output struct {
	mu      sync.Mutex
	dir     string
	now     func() time.Time
	written []string
}

// New creates a file output rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Output, error) {
	o := &Output{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file output: create %s: %w", dir, err)
	}
	return o, nil
}

// Path returns the snapshot path for a series name.
func (o *Output) Path(name string) string {
	return filepath.Join(o.dir, fmt.Sprintf("%s_%s.csv", safeName(name), o.now().Format(dateLayout)))
}

func (o *Output) Write(_ context.Context, series model.Series) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	path := o.Path(series.Name)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("file output: open %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(output.Header(series)); err != nil {
		f.Close()
		return fmt.Errorf("file output: write header: %w", err)
	}
	if err := w.WriteAll(output.Records(series)); err != nil {
		f.Close()
		return fmt.Errorf("file output: write rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("file output: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("file output: rename: %w", err)
	}
	o.written = append(o.written, path)
	return nil
}

// Written lists the files produced so far.
func (o *Output) Written() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.written...)
}

func (o *Output) Close() error {
	return nil
}

func safeName(name string) string {
	if name == "" {
		return "series"
	}
	return unsafeName.ReplaceAllString(name, "_")
}
