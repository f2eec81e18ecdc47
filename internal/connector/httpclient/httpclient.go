package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"github.com/crimson-sun/citypulse/internal/logging"
	"github.com/crimson-sun/citypulse/internal/model"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = time.Second
	maxBodyInError    = 512
)

// Client is an HTTP client for open-data endpoints with an optional Bearer
// token and optional retries. Retries are off unless WithRetries is given.
type Client struct {
	httpClient *http.Client
	token      string
	maxRetries int
	retryDelay time.Duration
	logger     logrus.FieldLogger
}

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures Client behavior.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRetries retries transport failures, 429 and 5xx responses up to n times
// with exponential backoff starting at delay.
func WithRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.retryDelay = delay
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		retryDelay: defaultRetryDelay,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	return c
}

// Get sends a GET request and returns the response body. query is merged into
// any query string already present on rawURL, replacing keys it sets.
// All failures wrap model.ErrTransport; HTTP status failures also carry *APIError.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	fullURL, err := withQuery(rawURL, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrTransport, err)
	}

	policy := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool { return retryable(err) }).
		WithMaxRetries(c.maxRetries).
		WithBackoff(c.retryDelay, 8*c.retryDelay).
		ReturnLastFailure().
		Build()

	attempt := 0
	body, err := failsafe.With[[]byte](policy).WithContext(ctx).Get(func() ([]byte, error) {
		attempt++
		c.logger.WithFields(logging.Fields{"url": fullURL, "attempt": attempt}).Debug("http get")
		return c.do(ctx, fullURL)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", model.ErrTransport, fullURL, err)
	}
	return body, nil
}

// GetJSON sends a GET request and unmarshals the JSON response into dest.
// A body that is not valid JSON is reported as a parse failure, not a
// transport failure.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, dest any) error {
	body, err := c.Get(ctx, rawURL, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: decode json from %s: %w", model.ErrParse, rawURL, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyStr := string(body)
		if len(bodyStr) > maxBodyInError {
			bodyStr = bodyStr[:maxBodyInError]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: bodyStr}
	}
	return body, nil
}

// retryable reports whether an attempt failure is worth repeating:
// transport errors, 429 and 5xx. Context cancellation never is.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

func withQuery(rawURL string, query url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if len(query) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, vs := range query {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
