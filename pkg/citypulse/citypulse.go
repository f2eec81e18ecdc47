package citypulse

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/crimson-sun/citypulse/internal/connector"
	"github.com/crimson-sun/citypulse/internal/engine"
	"github.com/crimson-sun/citypulse/internal/engine/align"
	"github.com/crimson-sun/citypulse/internal/engine/derive"
	"github.com/crimson-sun/citypulse/internal/engine/resample"
	"github.com/crimson-sun/citypulse/internal/logging"
	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/pipeline"

	// Register connector implementations.
	_ "github.com/crimson-sun/citypulse/internal/connector/casefeed"
	_ "github.com/crimson-sun/citypulse/internal/connector/ckan"
)

var nan = math.NaN()

// Errors callers can test with errors.Is.
var (
	ErrTransport      = model.ErrTransport
	ErrEnvelope       = model.ErrEnvelope
	ErrParse          = model.ErrParse
	ErrEmptySelection = model.ErrEmptySelection
)

// Client fetches and resamples the two feeds.
type Client struct {
	opts     options
	pipeline *pipeline.Pipeline
}

// New creates a Client. No request is made until a feed is asked for.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	return &Client{
		opts:     o,
		pipeline: pipeline.New(engine.New(o.logger), nil, pipeline.WithLogger(o.logger), pipeline.WithoutAlignment()),
	}
}

// Cases returns the case/death feed summed per bucket.
func (c *Client) Cases(ctx context.Context) (Series, error) {
	return c.one(ctx, c.casesJob())
}

// Counter returns the flows (In, Out and Total) of the configured
// counter location summed per bucket.
func (c *Client) Counter(ctx context.Context) (Series, error) {
	return c.one(ctx, c.counterJob())
}

// CounterSample returns the first few raw records of the counter feed.
func (c *Client) CounterSample(ctx context.Context) ([]map[string]any, error) {
	recs, err := c.pipeline.Sample(ctx, c.counterJob())
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return out, nil
}

func (c *Client) one(ctx context.Context, job pipeline.Job) (Series, error) {
	res, err := c.pipeline.Run(ctx, []pipeline.Job{job})
	if err != nil {
		return Series{}, err
	}
	return seriesFromModel(res.Series[0]), nil
}

func (c *Client) source(url string, extra map[string]string) connector.SourceConfig {
	return connector.SourceConfig{
		URL:        url,
		Timeout:    c.opts.timeout,
		MaxRetries: c.opts.retries,
		RetryDelay: c.opts.retryDelay,
		Location:   c.opts.location,
		Extra:      extra,
		Logger:     c.opts.logger,
	}
}

func (c *Client) casesJob() pipeline.Job {
	return pipeline.Job{
		Name:     "cases",
		Provider: "casefeed",
		Source:   c.source(c.opts.casesURL, map[string]string{"measures": strings.Join(c.opts.measures, ",")}),
		Plan:     engine.Plan{Columns: c.opts.measures, Interval: c.opts.interval},
	}
}

func (c *Client) counterJob() pipeline.Job {
	return pipeline.Job{
		Name:     "counter",
		Provider: "ckan",
		Source:   c.source(c.opts.counterURL, map[string]string{"pagination": c.opts.pagination}),
		Plan: engine.Plan{
			Derive:       &derive.Sum{Name: "Total", Columns: []string{"In", "Out"}},
			EntityColumn: "Name",
			Entity:       c.opts.entity,
			Columns:      []string{"In", "Out", "Total"},
			Interval:     c.opts.interval,
			AllowEmpty:   c.opts.allowEmpty,
		},
	}
}

// Compare outer-joins two series on their buckets. Buckets present in only
// one of them get NaN for the other's columns.
func Compare(a, b Series) (Series, error) {
	s, err := align.Outer(seriesToModel(a), seriesToModel(b))
	if err != nil {
		return Series{}, err
	}
	return seriesFromModel(s), nil
}

// Resample re-buckets a series to a wider interval by summing. Every old
// bucket must fit inside one new bucket, so 2h can become 6h or D but not 3h.
func Resample(s Series, interval string) (Series, error) {
	width, err := resample.ParseWidth(interval)
	if err != nil {
		return Series{}, err
	}
	if s.Interval != "" && !wider(s.Interval, width) {
		return Series{}, fmt.Errorf("citypulse: resample to %s would split %s buckets", interval, s.Interval)
	}
	out, err := resample.Series(seriesToModel(s), width, resample.Sum)
	if err != nil {
		return Series{}, err
	}
	return seriesFromModel(out), nil
}

// wider reports whether buckets of the interval label from nest inside to.
// Fixed widths divide a day and start at midnight, so a span that is a
// multiple of from's keeps every old bucket whole.
func wider(from string, to resample.Width) bool {
	w, err := resample.ParseWidth(from)
	if err != nil {
		return true
	}
	return to.Span()%w.Span() == 0
}
