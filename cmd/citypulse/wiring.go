package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/crimson-sun/citypulse/internal/config"
	"github.com/crimson-sun/citypulse/internal/connector"
	"github.com/crimson-sun/citypulse/internal/engine"
	"github.com/crimson-sun/citypulse/internal/engine/align"
	"github.com/crimson-sun/citypulse/internal/engine/dedup"
	"github.com/crimson-sun/citypulse/internal/engine/derive"
	"github.com/crimson-sun/citypulse/internal/output"
	"github.com/crimson-sun/citypulse/internal/output/chart"
	"github.com/crimson-sun/citypulse/internal/output/file"
	"github.com/crimson-sun/citypulse/internal/output/multi"
	"github.com/crimson-sun/citypulse/internal/output/postgres"
	"github.com/crimson-sun/citypulse/internal/output/stdout"
	"github.com/crimson-sun/citypulse/internal/output/webhook"
	"github.com/crimson-sun/citypulse/internal/output/xlsx"
	"github.com/crimson-sun/citypulse/internal/pipeline"

	// Register connector implementations.
	_ "github.com/crimson-sun/citypulse/internal/connector/casefeed"
	_ "github.com/crimson-sun/citypulse/internal/connector/ckan"
)

const (
	casesJob   = "cases"
	counterJob = "counter"
)

// buildJobs turns the enabled feeds into pipeline jobs, cases first.
func buildJobs(cfg config.Config) ([]pipeline.Job, error) {
	loc, err := time.LoadLocation(cfg.Resample.Timezone)
	if err != nil {
		return nil, fmt.Errorf("resample.timezone: %w", err)
	}
	source := func(provider, url string, extra map[string]string) connector.SourceConfig {
		return connector.SourceConfig{
			Provider:   provider,
			URL:        url,
			Token:      cfg.HTTP.Token,
			Timeout:    cfg.HTTP.Timeout,
			MaxRetries: cfg.HTTP.MaxRetries,
			RetryDelay: cfg.HTTP.RetryDelay,
			Location:   loc,
			Extra:      extra,
		}
	}
	// Case rows have no entity, so only the counter feed is deduplicated.
	var dd *dedup.Config
	if cfg.Resample.DropDuplicates {
		dd = &dedup.Config{KeyOnly: cfg.Resample.DedupKeyOnly}
	}

	var jobs []pipeline.Job
	if cfg.Cases.Enabled {
		jobs = append(jobs, pipeline.Job{
			Name:     casesJob,
			Provider: "casefeed",
			Source: source("casefeed", cfg.Cases.URL, map[string]string{
				"date_column": cfg.Cases.DateColumn,
				"measures":    strings.Join(cfg.Cases.Measures, ","),
				"delimiter":   cfg.Cases.Delimiter,
			}),
			Plan: engine.Plan{
				Columns:    cfg.Cases.Measures,
				Interval:   cfg.Resample.Interval,
				AllowEmpty: cfg.Resample.AllowEmpty,
			},
		})
	}
	if cfg.Counter.Enabled {
		c := cfg.Counter
		jobs = append(jobs, pipeline.Job{
			Name:     counterJob,
			Provider: "ckan",
			Source: source("ckan", c.URL, map[string]string{
				"pagination":      c.Pagination,
				"page_size":       strconv.Itoa(c.PageSize),
				"timestamp_field": c.TimestampField,
				"entity_field":    c.EntityField,
				"id_field":        c.IDField,
				"flow_fields":     c.InField + "," + c.OutField,
			}),
			Plan: engine.Plan{
				Derive:       &derive.Sum{Name: c.TotalColumn, Columns: []string{c.InField, c.OutField}},
				EntityColumn: c.EntityField,
				Entity:       c.Entity,
				Columns:      []string{c.InField, c.OutField, c.TotalColumn},
				Interval:     cfg.Resample.Interval,
				AllowEmpty:   cfg.Resample.AllowEmpty,
				Dedup:        dd,
			},
		})
	}
	return jobs, nil
}

// buildJoin picks how the two feeds are combined. "none" disables it.
func buildJoin(cfg config.Config) (pipeline.Option, error) {
	join, err := align.ParseJoin(cfg.Resample.Join)
	if err != nil {
		return nil, err
	}
	return pipeline.WithJoin(join), nil
}

// buildRenderer lays out the case chart and the combined chart on two axes,
// and the counter chart as its total alone.
func buildRenderer(cfg config.Config) chart.Renderer {
	r := chart.Renderer{
		Theme:  cfg.Chart.Theme,
		Width:  pixels(cfg.Chart.Width),
		Height: pixels(cfg.Chart.Height),
		Plots:  map[string]chart.Plot{},
	}
	if cfg.Cases.Enabled && len(cfg.Cases.Measures) >= 2 {
		m := cfg.Cases.Measures
		r.Plots[casesJob] = chart.Plot{Kind: chart.KindDual, Columns: []string{m[0], m[len(m)-1]}}
	}
	if cfg.Counter.Enabled {
		r.Plots[counterJob] = chart.Plot{Kind: chart.KindLines, Columns: []string{cfg.Counter.TotalColumn}}
	}
	if cfg.Cases.Enabled && cfg.Counter.Enabled && cfg.Resample.Join != "none" && len(cfg.Cases.Measures) > 0 {
		r.Plots[align.Name(casesJob, counterJob)] = chart.Plot{
			Kind:    chart.KindDual,
			Columns: []string{cfg.Cases.Measures[0], cfg.Counter.TotalColumn},
		}
	}
	return r
}

// pixels parses sizes such as "1200px" or "900". Anything else yields 0,
// which leaves the renderer default in place.
func pixels(s string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// buildOutputs creates every configured output and fans out to them.
// Outputs created before a failure are closed again.
func buildOutputs(ctx context.Context, cfg config.Config, logger logrus.FieldLogger, runID uuid.UUID, stdoutW io.Writer) (*multi.Multi, error) {
	var outs []output.Output
	fail := func(err error) (*multi.Multi, error) {
		multi.New(outs...).Close()
		return nil, err
	}

	for _, format := range cfg.Output.Formats {
		switch format {
		case "stdout":
			outs = append(outs, stdout.New(stdoutW, cfg.Output.Pretty))
		case "csv":
			o, err := file.New(cfg.Output.Dir)
			if err != nil {
				return fail(err)
			}
			outs = append(outs, o)
		case "xlsx":
			o, err := xlsx.New(cfg.Output.Dir)
			if err != nil {
				return fail(err)
			}
			outs = append(outs, o)
		case "chart":
			o, err := chart.New(cfg.Chart.Dir, buildRenderer(cfg))
			if err != nil {
				return fail(err)
			}
			outs = append(outs, o)
		case "webhook":
			outs = append(outs, webhook.New(cfg.Output.WebhookURL,
				webhook.WithTimeout(cfg.HTTP.Timeout),
				webhook.WithLogger(logger),
			))
		case "postgres":
			o, err := postgres.Open(ctx, cfg.Output.PostgresDSN,
				postgres.WithRunID(runID),
				postgres.WithLogger(logger),
			)
			if err != nil {
				return fail(err)
			}
			outs = append(outs, o)
		default:
			return fail(fmt.Errorf("unknown output format %q", format))
		}
	}
	logger.WithField("formats", strings.Join(cfg.Output.Formats, ",")).Debug("outputs ready")
	return multi.New(outs...), nil
}
