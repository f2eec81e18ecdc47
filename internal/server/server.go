// Package server exposes pipeline results over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/crimson-sun/citypulse/internal/logging"
	"github.com/crimson-sun/citypulse/internal/metrics"
	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/output"
	"github.com/crimson-sun/citypulse/internal/output/chart"
)

const defaultRefresh = 15 * time.Minute

// Runner produces a fresh set of series, typically one pipeline run.
type Runner func(ctx context.Context) ([]model.Series, error)

// Option configures a Server.
type Option func(*Server)

// WithRefresh sets how long results are reused before the next request
// triggers a new run. Default: 15m.
func WithRefresh(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.refresh = d
		}
	}
}

// WithRenderer sets the chart layout used by /charts/:name.
func WithRenderer(r chart.Renderer) Option {
	return func(s *Server) { s.renderer = r }
}

// WithMetrics mounts /metrics and counts requests.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// Server caches the last successful run and serves it as JSON and HTML.
type Server struct {
	run      Runner
	refresh  time.Duration
	renderer chart.Renderer
	metrics  *metrics.Metrics
	logger   logrus.FieldLogger
	now      func() time.Time
	router   *gin.Engine

	mu       sync.Mutex
	series   []model.Series
	loadedAt time.Time
	inflight *load
}

// load is one in-flight run shared by every request waiting on it.
type load struct {
	done   chan struct{}
	series []model.Series
	err    error
}

// New builds the server and its routes.
func New(run Runner, opts ...Option) *Server {
	s := &Server{
		run:     run,
		refresh: defaultRefresh,
		logger:  logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/api/series", s.listSeries)
	r.GET("/api/series/:name", s.getSeries)
	r.GET("/charts/:name", s.getChart)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("dashboard listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Series returns the cached results, running the pipeline when they are
// older than the refresh interval. Concurrent callers share one run.
func (s *Server) Series(ctx context.Context) ([]model.Series, error) {
	s.mu.Lock()
	if s.series != nil && s.now().Sub(s.loadedAt) < s.refresh {
		series := s.series
		s.mu.Unlock()
		return series, nil
	}
	l := s.inflight
	if l == nil {
		l = &load{done: make(chan struct{})}
		s.inflight = l
		go s.reload(l)
	}
	s.mu.Unlock()

	select {
	case <-l.done:
		return l.series, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reload runs detached from any request so a client going away does not
// cancel the run for everyone else waiting.
func (s *Server) reload(l *load) {
	start := s.now()
	l.series, l.err = s.run(context.Background())

	finished := s.now()

	s.mu.Lock()
	if l.err == nil {
		s.series = l.series
		s.loadedAt = finished
	}
	s.inflight = nil
	s.mu.Unlock()
	close(l.done)

	if l.err != nil {
		s.logger.WithError(l.err).Error("refresh failed")
		return
	}
	s.logger.WithFields(logging.Fields{
		"series":   len(l.series),
		"duration": finished.Sub(start).String(),
	}).Info("results refreshed")
}

func (s *Server) lookup(c *gin.Context) (model.Series, bool) {
	all, err := s.Series(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return model.Series{}, false
	}
	name := c.Param("name")
	for _, series := range all {
		if series.Name == name {
			return series, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown series: " + name})
	return model.Series{}, false
}

func (s *Server) listSeries(c *gin.Context) {
	all, err := s.Series(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	names := make([]string, len(all))
	for i, series := range all {
		names[i] = series.Name
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"series": names})
}

func (s *Server) getSeries(c *gin.Context) {
	series, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, output.ToDocument(series))
}

func (s *Server) getChart(c *gin.Context) {
	series, ok := s.lookup(c)
	if !ok {
		return
	}
	var page bytes.Buffer
	if err := s.renderer.Render(&page, series); err != nil {
		s.logger.WithError(err).WithField("series", series.Name).Error("chart render failed")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page.Bytes())
}

// statusFor maps a refresh error to a response code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrTransport), errors.Is(err, model.ErrEnvelope), errors.Is(err, model.ErrParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
