package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/citypulse/internal/metrics"
	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/output"
	"github.com/crimson-sun/citypulse/internal/output/chart"
)

func testSeries(name string) model.Series {
	return model.Series{
		Name:     name,
		Interval: "D",
		Table: model.Table{
			TimeColumn: "Date",
			Columns:    []string{"NewConfCases", "NewDeaths"},
			Rows: []model.Row{
				{Timestamp: time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), Values: []float64{3, 0}},
				{Timestamp: time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC), Values: []float64{4, 1}},
			},
		},
	}
}

// countingRunner returns fixed series and counts how often it ran.
func countingRunner(calls *atomic.Int32, series ...model.Series) Runner {
	return func(context.Context) ([]model.Series, error) {
		calls.Add(1)
		return series, nil
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthz(t *testing.T) {
	var calls atomic.Int32
	s := New(countingRunner(&calls))

	w := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, int32(0), calls.Load(), "health check must not run the pipeline")
}

func TestListSeries(t *testing.T) {
	var calls atomic.Int32
	s := New(countingRunner(&calls, testSeries("counter"), testSeries("cases")))

	w := get(t, s, "/api/series")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"series":["cases","counter"]}`, w.Body.String())
}

func TestGetSeries(t *testing.T) {
	var calls atomic.Int32
	s := New(countingRunner(&calls, testSeries("cases")))

	w := get(t, s, "/api/series/cases")
	require.Equal(t, http.StatusOK, w.Code)

	var doc output.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "cases", doc.Name)
	assert.Equal(t, "D", doc.Interval)
	require.Len(t, doc.Points, 2)
	assert.Equal(t, 4.0, *doc.Points[1].Values["NewConfCases"])

	w = get(t, s, "/api/series/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetChart(t *testing.T) {
	var calls atomic.Int32
	r := chart.Renderer{Theme: "white", Plots: map[string]chart.Plot{"cases": {Kind: chart.KindDual}}}
	s := New(countingRunner(&calls, testSeries("cases")), WithRenderer(r))

	w := get(t, s, "/charts/cases")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "NewDeaths")
	assert.Contains(t, w.Body.String(), "echarts")
}

func TestGetChartBadPlot(t *testing.T) {
	var calls atomic.Int32
	r := chart.Renderer{Plots: map[string]chart.Plot{"cases": {Kind: chart.KindLines, Columns: []string{"Missing"}}}}
	s := New(countingRunner(&calls, testSeries("cases")), WithRenderer(r))

	w := get(t, s, "/charts/cases")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCacheReusedWithinRefresh(t *testing.T) {
	var calls atomic.Int32
	s := New(countingRunner(&calls, testSeries("cases")), WithRefresh(time.Hour))
	now := time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	get(t, s, "/api/series")
	get(t, s, "/api/series/cases")
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(2 * time.Hour)
	get(t, s, "/api/series")
	assert.Equal(t, int32(2), calls.Load())
}

func TestConcurrentRequestsShareOneRun(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	run := func(context.Context) ([]model.Series, error) {
		calls.Add(1)
		<-release
		return []model.Series{testSeries("cases")}, nil
	}
	s := New(run)

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = get(t, s, "/api/series").Code
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
}

func TestRefreshErrorNotCached(t *testing.T) {
	var calls atomic.Int32
	run := func(context.Context) ([]model.Series, error) {
		if calls.Add(1) == 1 {
			return nil, fmt.Errorf("ckan connector: %w: down", model.ErrTransport)
		}
		return []model.Series{testSeries("cases")}, nil
	}
	s := New(run)

	w := get(t, s, "/api/series")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = get(t, s, "/api/series")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMetricsEndpoint(t *testing.T) {
	var calls atomic.Int32
	s := New(countingRunner(&calls, testSeries("cases")), WithMetrics(metrics.New("test")))

	get(t, s, "/healthz")
	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `citypulse_http_requests_total{endpoint="/healthz",method="GET",status="200"} 1`)
}

func TestNoMetricsRouteWithoutMetrics(t *testing.T) {
	var calls atomic.Int32
	s := New(countingRunner(&calls))
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	s := New(countingRunner(&calls))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
