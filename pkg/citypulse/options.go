package citypulse

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultCasesURL   = "https://raw.githubusercontent.com/openZH/covid_19/master/fallzahlen_kanton_alter_geschlecht_csv/COVID19_Fallzahlen_Kanton_ZH_alter_geschlecht.csv"
	defaultCounterURL = "https://data.stadt-zuerich.ch/api/3/action/datastore_search?resource_id=5baeaf58-9af2-4a39-a357-9063ca450893"
)

type options struct {
	casesURL   string
	counterURL string
	measures   []string
	entity     string
	interval   string
	pagination string
	location   *time.Location
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	allowEmpty bool
	logger     logrus.FieldLogger
}

// Option configures a Client.
type Option func(*options)

// WithCasesURL sets the case/death CSV (or XLSX) feed.
func WithCasesURL(url string) Option {
	return func(o *options) { o.casesURL = url }
}

// WithCounterURL sets the datastore_search URL of the counter feed,
// including its resource_id.
func WithCounterURL(url string) Option {
	return func(o *options) { o.counterURL = url }
}

// WithMeasures sets the case feed columns to keep.
// Default: NewConfCases, NewDeaths.
func WithMeasures(columns ...string) Option {
	return func(o *options) { o.measures = columns }
}

// WithEntity sets the counter location to keep. Default: "Ost-Nord total".
func WithEntity(name string) Option {
	return func(o *options) { o.entity = name }
}

// WithInterval sets the bucket width: D, W, H or a duration such as 6h.
// Default: D.
func WithInterval(interval string) Option {
	return func(o *options) { o.interval = interval }
}

// WithProbePagination fetches the counter feed with a size probe followed by
// one request for every record, instead of walking pages.
func WithProbePagination() Option {
	return func(o *options) { o.pagination = "probe" }
}

// WithLocation sets the zone applied to timestamps that carry none.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// WithTimeout bounds every upstream request. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetries retries failed upstream requests n times.
func WithRetries(n int, delay time.Duration) Option {
	return func(o *options) {
		o.retries = n
		o.retryDelay = delay
	}
}

// WithAllowEmpty returns an empty series instead of an error when the
// entity filter matches nothing.
func WithAllowEmpty() Option {
	return func(o *options) { o.allowEmpty = true }
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func defaultOptions() options {
	return options{
		casesURL:   defaultCasesURL,
		counterURL: defaultCounterURL,
		measures:   []string{"NewConfCases", "NewDeaths"},
		entity:     "Ost-Nord total",
		interval:   "D",
		pagination: "paged",
		timeout:    30 * time.Second,
	}
}
