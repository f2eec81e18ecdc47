// Package postgres stores series points in a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/crimson-sun/citypulse/internal/logging"
	"github.com/crimson-sun/citypulse/internal/model"
)

const defaultTable = "series_points"

// Option configures a postgres Output.
type Option func(*Output)

// WithTable sets the destination table. Default: series_points.
func WithTable(name string) Option {
	return func(o *Output) {
		if name != "" {
			o.table = name
		}
	}
}

// WithRunID tags every stored point with the given run. Default: a fresh UUID.
func WithRunID(id uuid.UUID) Option {
	return func(o *Output) { o.runID = id }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Output) { o.logger = l }
}

// Output writes each series as one row per bucket and column. Every Write
// is a single transaction that first removes the series' points of the same
// run, so a retried run does not duplicate data.
type Output struct {
	db     *sql.DB
	owned  bool
	table  string
	runID  uuid.UUID
	logger logrus.FieldLogger
}

// New wraps an open database handle. The caller keeps ownership of db.
func New(db *sql.DB, opts ...Option) *Output {
	o := &Output{db: db, table: defaultTable, runID: uuid.New(), logger: logging.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open connects with the lib/pq driver and makes sure the table exists.
// Close releases the connection pool.
func Open(ctx context.Context, dsn string, opts ...Option) (*Output, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres output: open: %w", err)
	}
	o := New(db, opts...)
	o.owned = true
	if err := o.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

// RunID returns the run identifier stored with every point.
func (o *Output) RunID() uuid.UUID { return o.runID }

// EnsureSchema creates the destination table if it does not exist.
func (o *Output) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id UUID NOT NULL,
	series TEXT NOT NULL,
	bucket_interval TEXT NOT NULL,
	bucket TIMESTAMPTZ NOT NULL,
	measure TEXT NOT NULL,
	value DOUBLE PRECISION,
	PRIMARY KEY (run_id, series, bucket, measure)
)`, pq.QuoteIdentifier(o.table))
	if _, err := o.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("postgres output: create table: %w", err)
	}
	return nil
}

func (o *Output) Write(ctx context.Context, series model.Series) (err error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres output: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	table := pq.QuoteIdentifier(o.table)
	runID := o.runID.String()
	if _, err = tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1 AND series = $2`, table),
		runID, series.Name,
	); err != nil {
		return fmt.Errorf("postgres output: clear %s: %w", series.Name, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (run_id, series, bucket_interval, bucket, measure, value) VALUES ($1, $2, $3, $4, $5, $6)`, table))
	if err != nil {
		return fmt.Errorf("postgres output: prepare: %w", err)
	}
	defer stmt.Close()

	points := 0
	for _, r := range series.Rows {
		for c, column := range series.Columns {
			v := r.Values[c]
			value := sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
			if _, err = stmt.ExecContext(ctx, runID, series.Name, series.Interval, r.Timestamp, column, value); err != nil {
				return fmt.Errorf("postgres output: insert %s %s: %w", series.Name, column, err)
			}
			points++
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres output: commit: %w", err)
	}
	o.logger.WithFields(logging.Fields{"series": series.Name, "points": points}).Debug("series stored")
	return nil
}

// Close releases the pool when the Output opened it.
func (o *Output) Close() error {
	if o.owned {
		return o.db.Close()
	}
	return nil
}
