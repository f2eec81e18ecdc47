package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"github.com/crimson-sun/citypulse/internal/logging"
	"github.com/crimson-sun/citypulse/internal/model"
	"github.com/crimson-sun/citypulse/internal/output"
)

const (
	defaultBatchSize  = 1
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) { o.headers = h }
}

// WithBatchSize sets the number of series accumulated before a POST. Default: 1.
func WithBatchSize(n int) Option {
	return func(o *Output) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithTimeout sets the HTTP client timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.client.Timeout = d }
}

// WithRetries sets how often a 5xx answer or a transport error is retried,
// and the first backoff delay. Default: 3 retries starting at 1s.
func WithRetries(n int, delay time.Duration) Option {
	return func(o *Output) {
		o.maxRetries = n
		if delay > 0 {
			o.retryDelay = delay
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Output) { o.logger = l }
}

// Output POSTs batches of series documents to an HTTP endpoint as a JSON
// array. Series accumulate until batchSize is reached; Close sends the rest.
type Output struct {
	client     *http.Client
	url        string
	headers    map[string]string
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	logger     logrus.FieldLogger
	mu         sync.Mutex
	pending    []output.Document
}

// New creates a webhook output targeting the given URL.
func New(url string, opts ...Option) *Output {
	o := &Output{
		client:     &http.Client{Timeout: defaultTimeout},
		url:        url,
		batchSize:  defaultBatchSize,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Write appends a series to the batch and posts the batch once it is full.
func (o *Output) Write(ctx context.Context, series model.Series) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, output.ToDocument(series))
	if len(o.pending) >= o.batchSize {
		return o.flushLocked(ctx)
	}
	return nil
}

// Close posts any remaining series.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushLocked(context.Background())
}

// flushLocked sends the pending batch. Caller must hold o.mu.
func (o *Output) flushLocked(ctx context.Context) error {
	if len(o.pending) == 0 {
		return nil
	}
	batch := o.pending
	o.pending = nil

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	return o.postWithRetry(ctx, body)
}

// postWithRetry sends the body, retrying on 5xx and transport errors.
func (o *Output) postWithRetry(ctx context.Context, body []byte) error {
	policy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return ctx.Err() == nil
			}
			return resp.StatusCode >= 500
		}).
		WithMaxRetries(o.maxRetries).
		WithBackoff(o.retryDelay, 8*o.retryDelay).
		ReturnLastFailure().
		Build()

	attempt := 0
	resp, err := failsafe.With(policy).WithContext(ctx).Get(func() (*http.Response, error) {
		attempt++
		if attempt > 1 {
			o.logger.WithField("attempt", attempt).Debug("webhook retry")
		}
		return o.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: HTTP %d", resp.StatusCode)
	}
	return nil
}

// post sends one request. The returned response body is already drained
// and closed; only the status is meaningful.
func (o *Output) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp, nil
}
