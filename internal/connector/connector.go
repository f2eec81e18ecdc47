package connector

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/crimson-sun/citypulse/internal/connector/httpclient"
	"github.com/crimson-sun/citypulse/internal/logging"
	"github.com/crimson-sun/citypulse/internal/model"
)

// Connector defines the interface all feed adapters must implement.
type Connector interface {
	// Fetch downloads the whole feed and returns it as a typed table.
	// Any malformed row fails the whole fetch.
	Fetch(ctx context.Context, cfg SourceConfig) (model.Table, error)
}

// Sampler is implemented by connectors that can return a small raw preview
// of a feed without fetching all of it.
type Sampler interface {
	Sample(ctx context.Context, cfg SourceConfig) ([]model.RawRecord, error)
}

// SourceConfig holds source-specific connection settings.
type SourceConfig struct {
	Provider   string
	URL        string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Location   *time.Location // applied to timestamps without a zone; nil means UTC
	Extra      map[string]string
	Logger     logrus.FieldLogger
}

// Get returns an Extra value or fallback when unset or blank.
func (c SourceConfig) Get(key, fallback string) string {
	if v := strings.TrimSpace(c.Extra[key]); v != "" {
		return v
	}
	return fallback
}

// GetInt returns an Extra value parsed as int, or fallback when unset or invalid.
func (c SourceConfig) GetInt(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(c.Extra[key])); err == nil {
		return v
	}
	return fallback
}

// GetList returns a comma-separated Extra value as a trimmed slice.
func (c SourceConfig) GetList(key string, fallback []string) []string {
	raw := c.Extra[key]
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// Loc returns the configured location, defaulting to UTC.
func (c SourceConfig) Loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Log returns the configured logger scoped to the provider.
func (c SourceConfig) Log() logrus.FieldLogger {
	l := c.Logger
	if l == nil {
		l = logging.Discard()
	}
	return l.WithField("source", c.Provider)
}

// Client builds the HTTP client described by the config.
func (c SourceConfig) Client() *httpclient.Client {
	opts := []httpclient.Option{httpclient.WithLogger(c.Log())}
	if c.Timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(c.Timeout))
	}
	if c.Token != "" {
		opts = append(opts, httpclient.WithToken(c.Token))
	}
	if c.MaxRetries > 0 {
		opts = append(opts, httpclient.WithRetries(c.MaxRetries, c.RetryDelay))
	}
	return httpclient.New(opts...)
}
