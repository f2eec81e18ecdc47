// Package ckan reads records from a CKAN datastore_search endpoint.
package ckan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/crimson-sun/citypulse/internal/connector"
	"github.com/crimson-sun/citypulse/internal/connector/coerce"
	"github.com/crimson-sun/citypulse/internal/connector/httpclient"
	"github.com/crimson-sun/citypulse/internal/logging"
	"github.com/crimson-sun/citypulse/internal/model"
)

const (
	providerName = "ckan"
	probeLimit   = 3

	// ModePaged walks the result set with limit/offset until result.total records arrived.
	ModePaged = "paged"
	// ModeProbe asks for the total first, then requests exactly that many records.
	ModeProbe = "probe"

	defaultPageSize  = 1000
	defaultTimestamp = "Timestamp"
	defaultIDField   = "_id"
	defaultEntity    = "Name"
)

var defaultFlows = []string{"In", "Out"}

func init() {
	connector.Register(providerName, func() connector.Connector {
		return &Connector{}
	})
}

// Connector implements connector.Connector for CKAN datastore_search.
//
// Extra keys: pagination (paged|probe), page_size, timestamp_field,
// flow_fields (comma-separated), entity_field, id_field.
type Connector struct{}

type envelope struct {
	Success *bool `json:"success"`
	Result  struct {
		Total   int               `json:"total"`
		Records []model.RawRecord `json:"records"`
	} `json:"result"`
}

func (c *Connector) Sample(ctx context.Context, cfg connector.SourceConfig) ([]model.RawRecord, error) {
	env, err := query(ctx, cfg, probeLimit, -1)
	if err != nil {
		return nil, err
	}
	recs := env.Result.Records
	if len(recs) > probeLimit {
		recs = recs[:probeLimit]
	}
	return recs, nil
}

// Fetch retrieves every record of the resource and flattens it into a table
// of flow columns indexed by the timestamp field.
func (c *Connector) Fetch(ctx context.Context, cfg connector.SourceConfig) (model.Table, error) {
	var (
		records []model.RawRecord
		err     error
	)
	switch mode := cfg.Get("pagination", ModePaged); mode {
	case ModePaged:
		records, err = fetchPaged(ctx, cfg)
	case ModeProbe:
		records, err = fetchProbe(ctx, cfg)
	default:
		return model.Table{}, fmt.Errorf("%s connector: unknown pagination mode %q", providerName, mode)
	}
	if err != nil {
		return model.Table{}, err
	}

	table, err := flatten(records, cfg)
	if err != nil {
		return model.Table{}, err
	}
	cfg.Log().WithField("rows", table.Len()).Debug("counter feed fetched")
	return table, nil
}

func fetchProbe(ctx context.Context, cfg connector.SourceConfig) ([]model.RawRecord, error) {
	probe, err := query(ctx, cfg, probeLimit, -1)
	if err != nil {
		return nil, err
	}
	total := probe.Result.Total
	if total < 0 {
		return nil, fmt.Errorf("%s connector: %w: negative total %d", providerName, model.ErrEnvelope, total)
	}
	full, err := query(ctx, cfg, total, -1)
	if err != nil {
		return nil, err
	}
	return full.Result.Records, nil
}

// fetchPaged walks the resource until it has seen result.total records. The
// offset advances by what the server actually returned, so a server capping
// rows per response below page_size is still read to the end.
func fetchPaged(ctx context.Context, cfg connector.SourceConfig) ([]model.RawRecord, error) {
	pageSize := cfg.GetInt("page_size", defaultPageSize)
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	idField := cfg.Get("id_field", defaultIDField)

	seen := make(map[string]struct{})
	var out []model.RawRecord
	for offset := 0; ; {
		env, err := query(ctx, cfg, pageSize, offset)
		if err != nil {
			return nil, err
		}
		page := env.Result.Records
		for _, rec := range page {
			if id, ok := rec[idField]; ok && id != nil {
				key := coerce.String(id)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			out = append(out, rec)
		}
		offset += len(page)
		total := env.Result.Total
		cfg.Log().WithFields(logging.Fields{"offset": offset, "records": len(page), "total": total}).Debug("page fetched")

		switch {
		case len(page) == 0:
			if offset < total {
				return nil, fmt.Errorf("%s connector: %w: result ended at %d of %d records", providerName, model.ErrEnvelope, offset, total)
			}
			return out, nil
		case total > 0 && offset >= total:
			return out, nil
		case total <= 0 && len(page) < pageSize:
			// no usable total; a short page is the only end marker left
			return out, nil
		}
	}
}

// query issues one datastore_search request. offset < 0 omits the parameter.
func query(ctx context.Context, cfg connector.SourceConfig, limit, offset int) (envelope, error) {
	if cfg.URL == "" {
		return envelope{}, fmt.Errorf("%s connector: missing url", providerName)
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if offset >= 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var env envelope
	if err := cfg.Client().GetJSON(ctx, cfg.URL, q, &env); err != nil {
		if msg, ok := rejected(err); ok {
			return envelope{}, fmt.Errorf("%s connector: %w: %s", providerName, model.ErrEnvelope, msg)
		}
		return envelope{}, fmt.Errorf("%s connector: %w", providerName, err)
	}
	if env.Success == nil || !*env.Success {
		return envelope{}, fmt.Errorf("%s connector: %w: response not marked successful (limit=%d)", providerName, model.ErrEnvelope, limit)
	}
	return env, nil
}

// rejected reports whether err is a 4xx response whose body is a CKAN
// envelope with success false, as sent for unknown resources or bad
// parameters. msg carries the status and CKAN's own error message.
func rejected(err error) (string, bool) {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode < 400 || apiErr.StatusCode >= 500 {
		return "", false
	}
	var body struct {
		Success *bool `json:"success"`
		Error   struct {
			Message string `json:"message"`
			Type    string `json:"__type"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(apiErr.Body), &body) != nil || body.Success == nil || *body.Success {
		return "", false
	}
	msg := fmt.Sprintf("HTTP %d", apiErr.StatusCode)
	if body.Error.Type != "" {
		msg += " " + body.Error.Type
	}
	if body.Error.Message != "" {
		msg += ": " + body.Error.Message
	}
	return msg, true
}

func flatten(records []model.RawRecord, cfg connector.SourceConfig) (model.Table, error) {
	tsField := cfg.Get("timestamp_field", defaultTimestamp)
	entityField := cfg.Get("entity_field", defaultEntity)
	flows := cfg.GetList("flow_fields", defaultFlows)
	loc := cfg.Loc()

	table := model.Table{
		TimeColumn:   tsField,
		EntityColumn: entityField,
		Columns:      append([]string(nil), flows...),
		Rows:         make([]model.Row, 0, len(records)),
	}
	for n, rec := range records {
		rowNum := n + 1
		rawTS := coerce.String(rec[tsField])
		ts, err := coerce.Timestamp(rawTS, loc)
		if err != nil {
			return model.Table{}, &model.ParseError{Source: providerName, Row: rowNum, Column: tsField, Value: rawTS, Err: err}
		}
		values := make([]float64, len(flows))
		for i, f := range flows {
			v, err := coerce.Float(rec[f])
			if err != nil {
				return model.Table{}, &model.ParseError{Source: providerName, Row: rowNum, Column: f, Value: coerce.String(rec[f]), Err: err}
			}
			values[i] = v
		}
		table.Rows = append(table.Rows, model.Row{
			Timestamp: ts,
			Entity:    coerce.String(rec[entityField]),
			Values:    values,
		})
	}
	return table, nil
}

var _ connector.Sampler = (*Connector)(nil)
