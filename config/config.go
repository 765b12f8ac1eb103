package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds client configuration.
type Config struct {
	BaseURL           string // empty selects the in-memory mock backend
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64

	SearchLimit       int
	SuggestLimit      int
	Debounce          time.Duration
	MinQueryLength    int
	SearchStaleAfter  time.Duration
	DetailStaleAfter  time.Duration
	HistoryStaleAfter time.Duration
	HistoryDays       int

	CacheTTL          time.Duration
	CacheSize         int
	BackgroundRefresh bool

	MockLatency time.Duration
	ThemeFile   string
	MetricsAddr string

	ExportFile         string
	ExportFormat       string // csv, json, or dual
	ExportWorkers      int
	BatchSize          int
	PipelineBufferSize int
	DedupeMaxSize      int

	Verbose bool
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "",
		Timeout:           10 * time.Second,
		UserAgent:         "bookwise/1.0 (+https://github.com/aluiziolira/bookwise)",
		RequestsPerSecond: 5,

		SearchLimit:       10,
		SuggestLimit:      5,
		Debounce:          300 * time.Millisecond,
		MinQueryLength:    2,
		SearchStaleAfter:  5 * time.Minute,
		DetailStaleAfter:  10 * time.Minute,
		HistoryStaleAfter: time.Hour,
		HistoryDays:       90,

		CacheTTL:          2 * time.Hour,
		CacheSize:         128,
		BackgroundRefresh: true,

		MockLatency: 500 * time.Millisecond,
		ThemeFile:   "",
		MetricsAddr: "",

		ExportFile:         "output/offers.csv",
		ExportFormat:       "csv",
		ExportWorkers:      2,
		BatchSize:          64,
		PipelineBufferSize: 512,
		DedupeMaxSize:      100000,

		Verbose: false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL != "" {
		parsedURL, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base URL: %w", err)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("base URL must include a host")
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}

	if c.SearchLimit <= 0 {
		return fmt.Errorf("search limit must be positive")
	}
	if c.SuggestLimit <= 0 {
		return fmt.Errorf("suggest limit must be positive")
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce cannot be negative")
	}
	if c.MinQueryLength < 0 {
		return fmt.Errorf("min query length cannot be negative")
	}
	if c.HistoryDays <= 0 {
		return fmt.Errorf("history days must be positive")
	}

	stale := []struct {
		name string
		d    time.Duration
	}{
		{"search stale after", c.SearchStaleAfter},
		{"detail stale after", c.DetailStaleAfter},
		{"history stale after", c.HistoryStaleAfter},
	}
	for _, s := range stale {
		if s.d < 0 {
			return fmt.Errorf("%s cannot be negative", s.name)
		}
		if s.d > c.CacheTTL {
			return fmt.Errorf("%s (%s) cannot exceed cache ttl (%s)", s.name, s.d, c.CacheTTL)
		}
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.MockLatency < 0 {
		return fmt.Errorf("mock latency cannot be negative")
	}

	if c.ExportFile == "" {
		return fmt.Errorf("export file cannot be empty")
	}
	if c.ExportFormat != "csv" && c.ExportFormat != "json" && c.ExportFormat != "dual" {
		return fmt.Errorf("export format must be csv, json, or dual")
	}
	if c.ExportWorkers <= 0 {
		return fmt.Errorf("export workers must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}

// SetDefaults registers every key with its default on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("api.base_url", d.BaseURL)
	v.SetDefault("api.timeout", d.Timeout)
	v.SetDefault("api.user_agent", d.UserAgent)
	v.SetDefault("api.requests_per_second", d.RequestsPerSecond)
	v.SetDefault("search.limit", d.SearchLimit)
	v.SetDefault("search.suggest_limit", d.SuggestLimit)
	v.SetDefault("search.debounce", d.Debounce)
	v.SetDefault("search.min_query_length", d.MinQueryLength)
	v.SetDefault("search.stale_after", d.SearchStaleAfter)
	v.SetDefault("detail.stale_after", d.DetailStaleAfter)
	v.SetDefault("history.stale_after", d.HistoryStaleAfter)
	v.SetDefault("history.days", d.HistoryDays)
	v.SetDefault("cache.ttl", d.CacheTTL)
	v.SetDefault("cache.size", d.CacheSize)
	v.SetDefault("cache.background_refresh", d.BackgroundRefresh)
	v.SetDefault("mock.latency", d.MockLatency)
	v.SetDefault("theme.file", d.ThemeFile)
	v.SetDefault("metrics.addr", d.MetricsAddr)
	v.SetDefault("export.file", d.ExportFile)
	v.SetDefault("export.format", d.ExportFormat)
	v.SetDefault("export.workers", d.ExportWorkers)
	v.SetDefault("export.batch_size", d.BatchSize)
	v.SetDefault("export.buffer_size", d.PipelineBufferSize)
	v.SetDefault("export.dedupe_max_size", d.DedupeMaxSize)
	v.SetDefault("verbose", d.Verbose)
}

// Load reads configuration from v: defaults, then an optional bookwise.yaml
// in the working directory or the file named by v's config file, then
// BOOKWISE_* environment variables. The result is validated.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("BOOKWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("bookwise")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		BaseURL:           strings.TrimRight(v.GetString("api.base_url"), "/"),
		Timeout:           v.GetDuration("api.timeout"),
		UserAgent:         v.GetString("api.user_agent"),
		RequestsPerSecond: v.GetFloat64("api.requests_per_second"),

		SearchLimit:       v.GetInt("search.limit"),
		SuggestLimit:      v.GetInt("search.suggest_limit"),
		Debounce:          v.GetDuration("search.debounce"),
		MinQueryLength:    v.GetInt("search.min_query_length"),
		SearchStaleAfter:  v.GetDuration("search.stale_after"),
		DetailStaleAfter:  v.GetDuration("detail.stale_after"),
		HistoryStaleAfter: v.GetDuration("history.stale_after"),
		HistoryDays:       v.GetInt("history.days"),

		CacheTTL:          v.GetDuration("cache.ttl"),
		CacheSize:         v.GetInt("cache.size"),
		BackgroundRefresh: v.GetBool("cache.background_refresh"),

		MockLatency: v.GetDuration("mock.latency"),
		ThemeFile:   v.GetString("theme.file"),
		MetricsAddr: v.GetString("metrics.addr"),

		ExportFile:         v.GetString("export.file"),
		ExportFormat:       strings.ToLower(v.GetString("export.format")),
		ExportWorkers:      v.GetInt("export.workers"),
		BatchSize:          v.GetInt("export.batch_size"),
		PipelineBufferSize: v.GetInt("export.buffer_size"),
		DedupeMaxSize:      v.GetInt("export.dedupe_max_size"),

		Verbose: v.GetBool("verbose"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
