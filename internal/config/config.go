package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Version is the citypulse release version.
var Version = "0.3.0"

const (
	defaultCasesURL   = "https://raw.githubusercontent.com/openZH/covid_19/master/fallzahlen_kanton_alter_geschlecht_csv/COVID19_Fallzahlen_Kanton_ZH_alter_geschlecht.csv"
	defaultCounterURL = "https://data.stadt-zuerich.ch/api/3/action/datastore_search?resource_id=5baeaf58-9af2-4a39-a357-9063ca450893"
)

// Config holds all citypulse configuration.
type Config struct {
	LogLevel  string
	LogFormat string
	HTTP      HTTPConfig
	Cases     CasesConfig
	Counter   CounterConfig
	Resample  ResampleConfig
	Output    OutputConfig
	Chart     ChartConfig
	Metrics   MetricsConfig
	Server    ServerConfig
}

// HTTPConfig holds settings shared by every upstream request.
type HTTPConfig struct {
	Timeout    time.Duration
	MaxRetries int // 0 keeps fetches fail-fast
	RetryDelay time.Duration
	Token      string
}

// CasesConfig describes the flat case/death feed.
type CasesConfig struct {
	Enabled    bool
	URL        string
	DateColumn string
	Measures   []string
	Delimiter  string
}

// CounterConfig describes the CKAN pedestrian counter feed.
type CounterConfig struct {
	Enabled        bool
	URL            string
	TimestampField string
	InField        string
	OutField       string
	TotalColumn    string
	EntityField    string
	Entity         string
	IDField        string
	Pagination     string // "paged" or "probe"
	PageSize       int
}

// ResampleConfig holds the bucket width applied to both feeds.
// DropDuplicates and DedupKeyOnly apply to the counter feed only;
// case rows carry no entity to tell them apart.
type ResampleConfig struct {
	Interval       string
	Timezone       string
	AllowEmpty     bool
	DropDuplicates bool
	DedupKeyOnly   bool
	Join           string // "outer", "inner" or "none"
}

// OutputConfig holds destination settings.
type OutputConfig struct {
	Formats     []string // stdout, csv, xlsx, chart, webhook, postgres
	Dir         string
	Pretty      bool
	WebhookURL  string
	PostgresDSN string
}

// ChartConfig holds rendering settings passed to the chart output.
type ChartConfig struct {
	Dir    string
	Theme  string
	Width  string
	Height string
}

// MetricsConfig holds Prometheus settings for batch runs.
type MetricsConfig struct {
	Textfile string
}

// ServerConfig holds settings for the serve command.
type ServerConfig struct {
	Addr    string
	Refresh time.Duration
}

var knownFormats = map[string]bool{
	"stdout":   true,
	"csv":      true,
	"xlsx":     true,
	"chart":    true,
	"webhook":  true,
	"postgres": true,
}

// LoadEnv loads .env files from the working directory, if present.
// Values already set in the process environment are kept.
func LoadEnv(logger logrus.FieldLogger) {
	files := []string{".env", ".env.local"}
	var loaded []string
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			logger.WithError(err).Warnf("failed to load %s", file)
			continue
		}
		loaded = append(loaded, file)
	}
	if len(loaded) > 0 {
		logger.Debugf("loaded env files: %s", strings.Join(loaded, ", "))
	}
}

// Load reads configuration from the optional YAML file at path and from
// CITYPULSE_* environment variables, which take precedence over the file.
// An empty path looks for citypulse.yaml in the working directory and
// silently falls back to defaults when it does not exist.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CITYPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("citypulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: %w", err)
			}
		}
	}

	return Config{
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
		HTTP: HTTPConfig{
			Timeout:    v.GetDuration("http.timeout"),
			MaxRetries: v.GetInt("http.max_retries"),
			RetryDelay: v.GetDuration("http.retry_delay"),
			Token:      v.GetString("http.token"),
		},
		Cases: CasesConfig{
			Enabled:    v.GetBool("cases.enabled"),
			URL:        v.GetString("cases.url"),
			DateColumn: v.GetString("cases.date_column"),
			Measures:   stringList(v, "cases.measures"),
			Delimiter:  v.GetString("cases.delimiter"),
		},
		Counter: CounterConfig{
			Enabled:        v.GetBool("counter.enabled"),
			URL:            v.GetString("counter.url"),
			TimestampField: v.GetString("counter.timestamp_field"),
			InField:        v.GetString("counter.in_field"),
			OutField:       v.GetString("counter.out_field"),
			TotalColumn:    v.GetString("counter.total_column"),
			EntityField:    v.GetString("counter.entity_field"),
			Entity:         v.GetString("counter.entity"),
			IDField:        v.GetString("counter.id_field"),
			Pagination:     v.GetString("counter.pagination"),
			PageSize:       v.GetInt("counter.page_size"),
		},
		Resample: ResampleConfig{
			Interval:       v.GetString("resample.interval"),
			Timezone:       v.GetString("resample.timezone"),
			AllowEmpty:     v.GetBool("resample.allow_empty"),
			DropDuplicates: v.GetBool("resample.drop_duplicates"),
			DedupKeyOnly:   v.GetBool("resample.dedup_key_only"),
			Join:           v.GetString("resample.join"),
		},
		Output: OutputConfig{
			Formats:     stringList(v, "output.formats"),
			Dir:         v.GetString("output.dir"),
			Pretty:      v.GetBool("output.pretty"),
			WebhookURL:  v.GetString("output.webhook_url"),
			PostgresDSN: v.GetString("output.postgres_dsn"),
		},
		Chart: ChartConfig{
			Dir:    v.GetString("chart.dir"),
			Theme:  v.GetString("chart.theme"),
			Width:  v.GetString("chart.width"),
			Height: v.GetString("chart.height"),
		},
		Metrics: MetricsConfig{
			Textfile: v.GetString("metrics.textfile"),
		},
		Server: ServerConfig{
			Addr:    v.GetString("server.addr"),
			Refresh: v.GetDuration("server.refresh"),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_retries", 0)
	v.SetDefault("http.retry_delay", time.Second)
	v.SetDefault("http.token", "")

	v.SetDefault("cases.enabled", true)
	v.SetDefault("cases.url", defaultCasesURL)
	v.SetDefault("cases.date_column", "Date")
	v.SetDefault("cases.measures", []string{"NewConfCases", "NewDeaths"})
	v.SetDefault("cases.delimiter", ",")

	v.SetDefault("counter.enabled", true)
	v.SetDefault("counter.url", defaultCounterURL)
	v.SetDefault("counter.timestamp_field", "Timestamp")
	v.SetDefault("counter.in_field", "In")
	v.SetDefault("counter.out_field", "Out")
	v.SetDefault("counter.total_column", "Total")
	v.SetDefault("counter.entity_field", "Name")
	v.SetDefault("counter.entity", "Ost-Nord total")
	v.SetDefault("counter.id_field", "_id")
	v.SetDefault("counter.pagination", "paged")
	v.SetDefault("counter.page_size", 1000)

	v.SetDefault("resample.interval", "D")
	v.SetDefault("resample.timezone", "UTC")
	v.SetDefault("resample.allow_empty", false)
	v.SetDefault("resample.drop_duplicates", false)
	v.SetDefault("resample.dedup_key_only", false)
	v.SetDefault("resample.join", "outer")

	v.SetDefault("output.formats", []string{"stdout"})
	v.SetDefault("output.dir", "snapshots")
	v.SetDefault("output.pretty", false)
	v.SetDefault("output.webhook_url", "")
	v.SetDefault("output.postgres_dsn", "")

	v.SetDefault("chart.dir", "charts")
	v.SetDefault("chart.theme", "white")
	v.SetDefault("chart.width", "1200px")
	v.SetDefault("chart.height", "600px")

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.refresh", 15*time.Minute)
}

// stringList reads a list value that may come from YAML (a sequence) or from
// the environment (a comma-separated string).
func stringList(v *viper.Viper, key string) []string {
	var parts []string
	switch raw := v.Get(key).(type) {
	case string:
		parts = strings.Split(raw, ",")
	case []string:
		parts = raw
	case []any:
		for _, item := range raw {
			parts = append(parts, fmt.Sprint(item))
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the configuration for errors. Returns all problems at once.
func (c Config) Validate() error {
	var errs []error

	if !c.Cases.Enabled && !c.Counter.Enabled {
		errs = append(errs, errors.New("at least one of cases or counter must be enabled"))
	}
	if c.Cases.Enabled {
		if c.Cases.URL == "" {
			errs = append(errs, errors.New("cases.url is required"))
		}
		if c.Cases.DateColumn == "" {
			errs = append(errs, errors.New("cases.date_column is required"))
		}
		if len(c.Cases.Measures) == 0 {
			errs = append(errs, errors.New("cases.measures must name at least one column"))
		}
		if len([]rune(c.Cases.Delimiter)) != 1 {
			errs = append(errs, fmt.Errorf("cases.delimiter must be a single character, got %q", c.Cases.Delimiter))
		}
	}
	if c.Counter.Enabled {
		if c.Counter.URL == "" {
			errs = append(errs, errors.New("counter.url is required"))
		}
		if c.Counter.Entity == "" {
			errs = append(errs, errors.New("counter.entity is required"))
		}
		if c.Counter.InField == "" || c.Counter.OutField == "" || c.Counter.TotalColumn == "" {
			errs = append(errs, errors.New("counter.in_field, counter.out_field and counter.total_column are required"))
		}
		switch c.Counter.Pagination {
		case "paged", "probe":
		default:
			errs = append(errs, fmt.Errorf("counter.pagination must be paged or probe, got %q", c.Counter.Pagination))
		}
		if c.Counter.Pagination == "paged" && c.Counter.PageSize <= 0 {
			errs = append(errs, fmt.Errorf("counter.page_size must be positive, got %d", c.Counter.PageSize))
		}
	}
	if c.Resample.Interval == "" {
		errs = append(errs, errors.New("resample.interval is required"))
	}
	switch c.Resample.Join {
	case "outer", "inner", "none":
	default:
		errs = append(errs, fmt.Errorf("resample.join must be outer, inner or none, got %q", c.Resample.Join))
	}
	if _, err := time.LoadLocation(c.Resample.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("resample.timezone: %w", err))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("http.max_retries must be >= 0, got %d", c.HTTP.MaxRetries))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be positive, got %v", c.HTTP.Timeout))
	}
	for _, f := range c.Output.Formats {
		if !knownFormats[f] {
			errs = append(errs, fmt.Errorf("output.formats: unknown format %q", f))
		}
		if f == "webhook" && c.Output.WebhookURL == "" {
			errs = append(errs, errors.New("output.webhook_url is required for the webhook format"))
		}
		if f == "postgres" && c.Output.PostgresDSN == "" {
			errs = append(errs, errors.New("output.postgres_dsn is required for the postgres format"))
		}
	}

	return errors.Join(errs...)
}

// HasFormat reports whether an output format is enabled.
func (c Config) HasFormat(name string) bool {
	for _, f := range c.Output.Formats {
		if f == name {
			return true
		}
	}
	return false
}
