package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/crimson-sun/citypulse/internal/connector"
	"github.com/crimson-sun/citypulse/internal/engine"
	"github.com/crimson-sun/citypulse/internal/engine/align"
	"github.com/crimson-sun/citypulse/internal/logging"
	"github.com/crimson-sun/citypulse/internal/metrics"
	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/output"
)

// Job is one source to fetch and turn into a named series.
type Job struct {
	Name     string
	Provider string
	Source   connector.SourceConfig
	Plan     engine.Plan
}

// Result is what a run produced.
type Result struct {
	RunID    uuid.UUID
	Series   []model.Series
	Started  time.Time
	Finished time.Time
}

// Lookup resolves a provider name to a connector.
type Lookup func(provider string) (connector.Connector, error)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Default: discard.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics records fetch, stage and run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLookup replaces the connector registry.
func WithLookup(l Lookup) Option {
	return func(p *Pipeline) { p.lookup = l }
}

// WithoutAlignment skips the combined series when two jobs ran.
func WithoutAlignment() Option {
	return func(p *Pipeline) { p.join = nil }
}

// WithJoin sets how two series are combined. Default: align.Outer.
// A nil join is WithoutAlignment.
func WithJoin(j align.Join) Option {
	return func(p *Pipeline) { p.join = j }
}

// WithRunID fixes the identifier of the next runs instead of generating one.
func WithRunID(id uuid.UUID) Option {
	return func(p *Pipeline) { p.runID = id }
}

// Pipeline connects connectors, the engine and an output into one run.
// Jobs run one after the other and the first failure aborts the run.
type Pipeline struct {
	engine  *engine.Engine
	output  output.Output
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	lookup  Lookup
	join    align.Join
	runID   uuid.UUID
	now     func() time.Time
}

// New creates a Pipeline. out may be nil when only the Result is needed.
func New(eng *engine.Engine, out output.Output, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine: eng,
		output: out,
		logger: logging.Discard(),
		lookup: registryLookup,
		join:   align.Outer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func registryLookup(provider string) (connector.Connector, error) {
	ctor, err := connector.Get(provider)
	if err != nil {
		return nil, err
	}
	return ctor(), nil
}

// Run executes every job, writes each series to the output, then writes the
// aligned combination when exactly two series were produced.
func (p *Pipeline) Run(ctx context.Context, jobs []Job) (Result, error) {
	res := Result{RunID: p.runID, Started: p.now()}
	if res.RunID == uuid.Nil {
		res.RunID = uuid.New()
	}
	log := p.logger.WithField("run_id", res.RunID.String())
	log.WithField("jobs", len(jobs)).Info("run started")

	err := p.run(ctx, log, jobs, &res)
	res.Finished = p.now()
	p.metrics.ObserveRun(res.Finished, err)
	if err != nil {
		log.WithError(err).Error("run failed")
		return res, err
	}
	log.WithFields(logging.Fields{
		"series":   len(res.Series),
		"duration": res.Finished.Sub(res.Started).String(),
	}).Info("run finished")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log logrus.FieldLogger, jobs []Job, res *Result) error {
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		series, err := p.runJob(ctx, log, job)
		if err != nil {
			return fmt.Errorf("pipeline %s: %w", job.Name, err)
		}
		res.Series = append(res.Series, series)
		if err := p.write(ctx, series); err != nil {
			return err
		}
	}

	if p.join == nil || len(res.Series) != 2 {
		return nil
	}
	start := time.Now()
	combined, err := p.join(res.Series[0], res.Series[1])
	p.metrics.ObserveStage("align", time.Since(start))
	if err != nil {
		return fmt.Errorf("pipeline align: %w", err)
	}
	res.Series = append(res.Series, combined)
	p.metrics.ObserveSeries(combined.Name, combined.Len())
	return p.write(ctx, combined)
}

func (p *Pipeline) runJob(ctx context.Context, log logrus.FieldLogger, job Job) (model.Series, error) {
	conn, err := p.lookup(job.Provider)
	if err != nil {
		return model.Series{}, err
	}
	cfg := job.Source
	if cfg.Provider == "" {
		cfg.Provider = job.Provider
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}
	jobLog := log.WithFields(logging.Fields{"job": job.Name, "source": cfg.Provider})

	start := time.Now()
	table, err := conn.Fetch(ctx, cfg)
	p.metrics.ObserveFetch(cfg.Provider, table.Len(), time.Since(start), err)
	if err != nil {
		return model.Series{}, fmt.Errorf("fetch: %w", err)
	}
	jobLog.WithField("rows", table.Len()).Info("source fetched")

	start = time.Now()
	series, err := p.engine.Prepare(table, job.Plan)
	p.metrics.ObserveStage("prepare", time.Since(start))
	if err != nil {
		return model.Series{}, fmt.Errorf("prepare: %w", err)
	}
	series.Name = job.Name
	p.metrics.ObserveSeries(series.Name, series.Len())
	jobLog.WithFields(logging.Fields{"buckets": series.Len(), "interval": series.Interval}).Info("series prepared")
	return series, nil
}

func (p *Pipeline) write(ctx context.Context, s model.Series) error {
	if p.output == nil {
		return nil
	}
	start := time.Now()
	err := p.output.Write(ctx, s)
	p.metrics.ObserveStage("output", time.Since(start))
	if err != nil {
		return fmt.Errorf("pipeline output %s: %w", s.Name, err)
	}
	return nil
}

// Sample returns a raw preview of a job's source. The connector must
// implement connector.Sampler.
func (p *Pipeline) Sample(ctx context.Context, job Job) ([]model.RawRecord, error) {
	conn, err := p.lookup(job.Provider)
	if err != nil {
		return nil, err
	}
	sampler, ok := conn.(connector.Sampler)
	if !ok {
		return nil, fmt.Errorf("pipeline sample: provider %q cannot sample", job.Provider)
	}
	cfg := job.Source
	if cfg.Provider == "" {
		cfg.Provider = job.Provider
	}
	if cfg.Logger == nil {
		cfg.Logger = p.logger
	}
	return sampler.Sample(ctx, cfg)
}

// Close shuts down the output.
func (p *Pipeline) Close() error {
	if p.output == nil {
		return nil
	}
	return p.output.Close()
}
