// Package xlsx collects every series of a run into one workbook.
package xlsx

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/output"
)

const (
	defaultSheet  = "Sheet1"
	maxSheetName  = 31
	invalidSheetC = `[]:*?/\`
)

// Option configures an xlsx Output.
type Option func(*Output)

// WithClock overrides the clock used to date the workbook.
func WithClock(now func() time.Time) Option {
	return func(o *Output) { o.now = now }
}

// Output adds one sheet per series and saves the workbook on Close as
// <dir>/citypulse_<YYYY-MM-DD>.xlsx.
type Output struct {
	mu     sync.Mutex
	dir    string
	now    func() time.Time
	book   *excelize.File
	sheets int
	path   string
}

// New creates an xlsx output rooted at dir.
func New(dir string, opts ...Option) (*Output, error) {
	o := &Output{dir: dir, now: time.Now, book: excelize.NewFile()}
	for _, opt := range opts {
		opt(o)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("xlsx output: create %s: %w", dir, err)
	}
	return o, nil
}

func (o *Output) Write(_ context.Context, series model.Series) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := o.sheetName(series.Name)
	if o.sheets == 0 {
		if err := o.book.SetSheetName(defaultSheet, name); err != nil {
			return fmt.Errorf("xlsx output: rename sheet: %w", err)
		}
	} else if _, err := o.book.NewSheet(name); err != nil {
		return fmt.Errorf("xlsx output: add sheet %q: %w", name, err)
	}
	o.sheets++

	header := output.Header(series)
	if err := o.book.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("xlsx output: header: %w", err)
	}
	labels := output.Labels(series)
	for i, r := range series.Rows {
		row := make([]any, 0, len(r.Values)+2)
		row = append(row, labels[i])
		for _, v := range r.Values {
			if math.IsNaN(v) {
				row = append(row, nil)
				continue
			}
			row = append(row, v)
		}
		row = append(row, labels[i])

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("xlsx output: %w", err)
		}
		if err := o.book.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("xlsx output: row %d: %w", i+1, err)
		}
	}
	return nil
}

// Path returns where Close saves the workbook.
func (o *Output) Path() string {
	return filepath.Join(o.dir, fmt.Sprintf("citypulse_%s.xlsx", o.now().Format("2006-01-02")))
}

// Close saves the workbook if any series was written.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer o.book.Close()

	if o.sheets == 0 {
		return nil
	}
	o.path = o.Path()
	if err := o.book.SaveAs(o.path); err != nil {
		return fmt.Errorf("xlsx output: save %s: %w", o.path, err)
	}
	return nil
}

// sheetName makes a unique sheet name within Excel's limits.
func (o *Output) sheetName(name string) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidSheetC, r) {
			return '_'
		}
		return r
	}, name)
	if clean == "" {
		clean = "series"
	}
	if len(clean) > maxSheetName {
		clean = clean[:maxSheetName]
	}
	candidate := clean
	for n := 2; ; n++ {
		if idx, _ := o.book.GetSheetIndex(candidate); idx == -1 || (o.sheets == 0 && candidate == defaultSheet) {
			return candidate
		}
		suffix := fmt.Sprintf("_%d", n)
		base := clean
		if len(base)+len(suffix) > maxSheetName {
			base = base[:maxSheetName-len(suffix)]
		}
		candidate = base + suffix
	}
}
