package casefeed

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/crimson-sun/citypulse/internal/connector"
	"github.com/crimson-sun/citypulse/internal/connector/coerce"
	"github.com/crimson-sun/citypulse/internal/model"
)

const (
	providerName      = "casefeed"
	defaultDateColumn = "Date"
	sampleSize        = 3
)

var defaultMeasures = []string{"NewConfCases", "NewDeaths"}

func init() {
	connector.Register(providerName, func() connector.Connector {
		return &Connector{}
	})
}

// Connector implements connector.Connector for a flat tabular file (CSV, or
// XLSX when the URL path ends in .xlsx) with a header row, a date column and
// numeric measure columns.
//
// Extra keys: date_column, measures (comma-separated), delimiter.
type Connector struct{}

// Fetch downloads the file and returns one row per data line, indexed by the
// date column. A missing column, an unparseable date or a non-numeric
// measure cell fails the whole fetch.
func (c *Connector) Fetch(ctx context.Context, cfg connector.SourceConfig) (model.Table, error) {
	records, err := download(ctx, cfg)
	if err != nil {
		return model.Table{}, err
	}

	dateColumn := cfg.Get("date_column", defaultDateColumn)
	measures := cfg.GetList("measures", defaultMeasures)

	table, err := buildTable(records, dateColumn, measures, cfg)
	if err != nil {
		return model.Table{}, err
	}
	cfg.Log().WithField("rows", table.Len()).Debug("case feed fetched")
	return table, nil
}

// Sample returns the first three data rows keyed by header name, untyped.
func (c *Connector) Sample(ctx context.Context, cfg connector.SourceConfig) ([]model.RawRecord, error) {
	records, err := download(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w: no header row", providerName, model.ErrParse)
	}
	header := records[0]
	var out []model.RawRecord
	for _, rec := range records[1:] {
		if len(out) == sampleSize {
			break
		}
		raw := make(model.RawRecord, len(header))
		for i, name := range header {
			if i < len(rec) {
				raw[name] = rec[i]
			}
		}
		out = append(out, raw)
	}
	return out, nil
}

func download(ctx context.Context, cfg connector.SourceConfig) ([][]string, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s connector: missing url", providerName)
	}
	body, err := cfg.Client().Get(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s connector: %w", providerName, err)
	}

	var records [][]string
	if isExcel(cfg.URL) {
		records, err = parseExcel(body)
	} else {
		records, err = parseCSV(body, cfg.Get("delimiter", ","))
	}
	if err != nil {
		return nil, fmt.Errorf("%s connector: %w: %w", providerName, model.ErrParse, err)
	}
	return trimTrailingBlankRows(records), nil
}

func isExcel(rawURL string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".xlsx")
}

// parseCSV decodes the payload honoring a leading byte order mark (UTF-8 or
// UTF-16) and splits it into records.
func parseCSV(payload []byte, delimiter string) ([][]string, error) {
	decoded := transform.NewReader(bytes.NewReader(payload), unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if r := []rune(delimiter); len(r) == 1 {
		reader.Comma = r[0]
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func parseExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("xlsx has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows from xlsx: %w", err)
	}
	return rows, nil
}

// trimTrailingBlankRows drops the all-blank rows that spreadsheet exports
// leave at the end of a file. Blank rows between data rows are kept and
// fail to parse, so row numbers in errors stay those of the file.
func trimTrailingBlankRows(records [][]string) [][]string {
	end := len(records)
	for end > 0 && blankRow(records[end-1]) {
		end--
	}
	return records[:end]
}

func blankRow(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func buildTable(records [][]string, dateColumn string, measures []string, cfg connector.SourceConfig) (model.Table, error) {
	if len(records) == 0 {
		return model.Table{}, fmt.Errorf("%s: %w: no header row", providerName, model.ErrParse)
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.TrimSpace(name)] = i
	}

	dateIdx, ok := header[dateColumn]
	if !ok {
		return model.Table{}, fmt.Errorf("%s: %w: date column %q not found", providerName, model.ErrParse, dateColumn)
	}
	measureIdx := make([]int, len(measures))
	for i, m := range measures {
		idx, ok := header[m]
		if !ok {
			return model.Table{}, fmt.Errorf("%s: %w: measure column %q not found", providerName, model.ErrParse, m)
		}
		measureIdx[i] = idx
	}

	loc := cfg.Loc()
	table := model.Table{
		TimeColumn: dateColumn,
		Columns:    append([]string(nil), measures...),
		Rows:       make([]model.Row, 0, len(records)-1),
	}
	for n, rec := range records[1:] {
		rowNum := n + 1
		rawDate := cell(rec, dateIdx)
		ts, err := coerce.Timestamp(rawDate, loc)
		if err != nil {
			return model.Table{}, &model.ParseError{Source: providerName, Row: rowNum, Column: dateColumn, Value: rawDate, Err: err}
		}

		values := make([]float64, len(measureIdx))
		for i, idx := range measureIdx {
			raw := cell(rec, idx)
			v, err := coerce.Float(raw)
			if err != nil {
				return model.Table{}, &model.ParseError{Source: providerName, Row: rowNum, Column: measures[i], Value: raw, Err: err}
			}
			values[i] = v
		}
		table.Rows = append(table.Rows, model.Row{Timestamp: ts, Values: values})
	}
	return table, nil
}

func cell(rec []string, idx int) string {
	if idx < len(rec) {
		return rec[idx]
	}
	return ""
}

var _ connector.Sampler = (*Connector)(nil)
