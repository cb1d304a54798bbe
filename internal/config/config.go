package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/amosWeiskopf/depthcrawl/pkg/crawler"
	"github.com/amosWeiskopf/depthcrawl/pkg/fetcher"
	"github.com/amosWeiskopf/depthcrawl/pkg/frontier"
	"github.com/amosWeiskopf/depthcrawl/pkg/reporter"
)

// EnvPrefix is prepended to every environment override, e.g. DEPTHCRAWL_CRAWLER_WORKERS.
const EnvPrefix = "DEPTHCRAWL"

// Config holds all application configuration
type Config struct {
	// Crawler configuration
	Crawler CrawlerConfig `mapstructure:"crawler"`

	// Metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`

	// Report output
	Report ReportConfig `mapstructure:"report"`
}

// CrawlerConfig holds crawler-specific configuration
type CrawlerConfig struct {
	Domain           string        `mapstructure:"domain"`
	MaxDepth         int           `mapstructure:"max_depth"`
	Workers          int           `mapstructure:"workers"`
	FrontierCapacity int           `mapstructure:"frontier_capacity"`
	Overflow         string        `mapstructure:"overflow"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Delay            time.Duration `mapstructure:"delay"`
	RunDuration      time.Duration `mapstructure:"run_duration"`
	MaxPages         int           `mapstructure:"max_pages"`
	UserAgent        string        `mapstructure:"user_agent"`
	MaxBodySize      int64         `mapstructure:"max_body_size"`
	MaxRedirects     int           `mapstructure:"max_redirects"`
	FollowRobotsTxt  bool          `mapstructure:"follow_robots_txt"`
	ExtractText      bool          `mapstructure:"extract_text"`
	VisitedShards    int           `mapstructure:"visited_shards"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type string `mapstructure:"type"` // "none" or "sqlite"
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "console"
	OutputPath string `mapstructure:"output_path"`
}

// ReportConfig selects how a finished crawl is rendered
type ReportConfig struct {
	Format string `mapstructure:"format"` // "json", "markdown", "csv" or "html"
	Output string `mapstructure:"output"` // file path, empty for stdout
	TopN   int    `mapstructure:"top_n"`
}

// Load reads configuration into v from configPath, or from config.yaml in the
// usual search paths when configPath is empty, then applies defaults and
// DEPTHCRAWL_* environment overrides. Flags bound to v beforehand win over both.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.depthcrawl")
	}

	SetDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error, we'll use defaults and env
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Crawler defaults
	v.SetDefault("crawler.domain", "")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.frontier_capacity", 10000)
	v.SetDefault("crawler.overflow", frontier.Block.String())
	v.SetDefault("crawler.timeout", fetcher.DefaultTimeout)
	v.SetDefault("crawler.delay", 100*time.Millisecond)
	v.SetDefault("crawler.run_duration", 30*time.Second)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.user_agent", fetcher.DefaultUserAgent)
	v.SetDefault("crawler.max_body_size", fetcher.DefaultMaxBodySize)
	v.SetDefault("crawler.max_redirects", fetcher.DefaultMaxRedirects)
	v.SetDefault("crawler.follow_robots_txt", false)
	v.SetDefault("crawler.extract_text", false)
	v.SetDefault("crawler.visited_shards", 16)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")

	// Storage defaults
	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.path", "depthcrawl.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output_path", "stderr")

	// Report defaults
	v.SetDefault("report.format", "markdown")
	v.SetDefault("report.output", "")
	v.SetDefault("report.top_n", 10)
}

func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	cr := c.Crawler
	if cr.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must not be negative")
	}
	if cr.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be positive")
	}
	if cr.FrontierCapacity <= 0 {
		return fmt.Errorf("crawler.frontier_capacity must be positive")
	}
	if _, err := frontier.ParseOverflow(cr.Overflow); err != nil {
		return fmt.Errorf("crawler.overflow: %w", err)
	}
	if cr.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be positive")
	}
	if cr.Delay < 0 || cr.RunDuration < 0 || cr.MaxPages < 0 {
		return fmt.Errorf("crawler.delay, crawler.run_duration and crawler.max_pages must not be negative")
	}

	switch c.Storage.Type {
	case "none", "":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unsupported storage.type: %s", c.Storage.Type)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	if !slices.Contains(reporter.Formats, c.Report.Format) {
		return fmt.Errorf("unsupported report.format: %s", c.Report.Format)
	}
	return nil
}

// CrawlerOptions maps the crawler section onto crawler.Options for the given seeds.
func (c *Config) CrawlerOptions(seeds []string) (crawler.Options, error) {
	overflow, err := frontier.ParseOverflow(c.Crawler.Overflow)
	if err != nil {
		return crawler.Options{}, err
	}
	return crawler.Options{
		Seeds:            seeds,
		Domain:           c.Crawler.Domain,
		MaxDepth:         c.Crawler.MaxDepth,
		Workers:          c.Crawler.Workers,
		FrontierCapacity: c.Crawler.FrontierCapacity,
		Overflow:         overflow,
		Delay:            c.Crawler.Delay,
		RunDuration:      c.Crawler.RunDuration,
		MaxPages:         c.Crawler.MaxPages,
		VisitedShards:    c.Crawler.VisitedShards,
		ExtractText:      c.Crawler.ExtractText || c.Storage.Type == "sqlite",
		KeepPages:        true,
	}, nil
}

// FetcherConfig maps the transport settings onto fetcher.Config.
func (c *Config) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		UserAgent:    c.Crawler.UserAgent,
		Timeout:      c.Crawler.Timeout,
		MaxBodySize:  c.Crawler.MaxBodySize,
		MaxRedirects: c.Crawler.MaxRedirects,
	}
}
