package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/amosWeiskopf/depthcrawl/internal/config"
	"github.com/amosWeiskopf/depthcrawl/internal/logging"
	"github.com/amosWeiskopf/depthcrawl/internal/models"
	"github.com/amosWeiskopf/depthcrawl/pkg/analyzer"
	"github.com/amosWeiskopf/depthcrawl/pkg/crawler"
	"github.com/amosWeiskopf/depthcrawl/pkg/fetcher"
	"github.com/amosWeiskopf/depthcrawl/pkg/metrics"
	"github.com/amosWeiskopf/depthcrawl/pkg/reporter"
	"github.com/amosWeiskopf/depthcrawl/pkg/robots"
	"github.com/amosWeiskopf/depthcrawl/pkg/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

// app carries the viper instance every command's flags are bound to.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "depthcrawl",
		Short: "depthcrawl - bounded, depth-limited breadth-first site crawler",
		Long: `depthcrawl crawls a single site breadth-first from one or more seed URLs,
staying inside the seed's domain and a maximum link depth, with a fixed pool
of concurrent workers and a bounded frontier.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	rootCmd.PersistentFlags().String("format", "markdown", "Report format (json, markdown, csv, html)")
	rootCmd.PersistentFlags().String("output", "", "Output file for the report (default stdout)")
	a.bind(rootCmd.PersistentFlags(), map[string]string{
		"logging.level":  "log-level",
		"logging.format": "log-format",
		"report.format":  "format",
		"report.output":  "output",
	})

	rootCmd.AddCommand(a.crawlCmd(), a.reportCmd(), versionCmd())
	return rootCmd
}

func (a *app) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}
}

func (a *app) crawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [SEED...]",
		Short: "Crawl a site starting from one or more seed URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("store") {
				a.v.Set("storage.type", "sqlite")
			}
			if flags.Changed("metrics-addr") {
				a.v.Set("metrics.enabled", true)
			}

			cfg, logger, closeLog, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := runCrawl(ctx, cfg, args, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Crawled %d pages from %s (%s)\n",
				result.TotalPages, result.Domain, result.StopReason)
			return writeReport(cmd.OutOrStdout(), cfg, result, logger)
		},
	}

	f := cmd.Flags()
	f.String("domain", "", "Target domain (default: host of the first seed)")
	f.Int("depth", 3, "Maximum link depth from the seeds")
	f.Int("workers", 4, "Number of concurrent workers")
	f.Int("capacity", 10000, "Frontier capacity")
	f.String("overflow", "block", "Full-frontier policy (block, drop-new, drop-oldest)")
	f.Duration("timeout", fetcher.DefaultTimeout, "Per-request timeout")
	f.Duration("delay", 100*time.Millisecond, "Minimum delay between two requests of one worker")
	f.Duration("duration", 30*time.Second, "Stop the crawl after this long (0 for no limit)")
	f.Int("max-pages", 0, "Stop after this many pages (0 for no limit)")
	f.String("user-agent", fetcher.DefaultUserAgent, "User-Agent header")
	f.Bool("robots", false, "Respect robots.txt")
	f.Bool("extract-text", false, "Extract the main text of every page")
	f.String("store", "", "SQLite database to store pages and the run summary in")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the crawl")
	a.bind(f, map[string]string{
		"crawler.domain":            "domain",
		"crawler.max_depth":         "depth",
		"crawler.workers":           "workers",
		"crawler.frontier_capacity": "capacity",
		"crawler.overflow":          "overflow",
		"crawler.timeout":           "timeout",
		"crawler.delay":             "delay",
		"crawler.run_duration":      "duration",
		"crawler.max_pages":         "max-pages",
		"crawler.user_agent":        "user-agent",
		"crawler.follow_robots_txt": "robots",
		"crawler.extract_text":      "extract-text",
		"storage.path":              "store",
		"metrics.addr":              "metrics-addr",
	})
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [DB]",
		Short: "Render the report of a stored crawl",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer closeLog()

			path := cfg.Storage.Path
			if len(args) == 1 {
				path = args[0]
			}
			st, err := store.Open(path)
			if err != nil {
				return err
			}
			defer st.Close()

			runID, _ := cmd.Flags().GetString("run")
			if runID == "" {
				if runID, err = st.LatestRunID(cmd.Context()); err != nil {
					return fmt.Errorf("no finished crawl in %s: %w", path, err)
				}
			}
			result, err := st.LoadRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), cfg, result, logger)
		},
	}
	cmd.Flags().String("run", "", "Run id to report on (default: latest)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "depthcrawl", versionString())
		},
	}
}

// setup loads and validates the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, func(), error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(a.v, configPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	return cfg, logger, func() { _ = closer.Close() }, nil
}

func runCrawl(ctx context.Context, cfg *config.Config, seeds []string, logger zerolog.Logger) (*models.CrawlResult, error) {
	opts, err := cfg.CrawlerOptions(seeds)
	if err != nil {
		return nil, err
	}

	f := fetcher.New(cfg.FetcherConfig())
	deps := []crawler.Option{
		crawler.WithFetcher(f),
		crawler.WithLogger(logger),
	}

	if cfg.Crawler.FollowRobotsTxt {
		deps = append(deps, crawler.WithRobots(robots.New(f.Client(), f.UserAgent(), robots.WithTimeout(cfg.Crawler.Timeout))))
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := m.Serve(metricsCtx, cfg.Metrics.Addr, cfg.Metrics.Path, logger); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		deps = append(deps, crawler.WithMetrics(m))
	}

	if cfg.Storage.Type == "sqlite" {
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		deps = append(deps, crawler.WithSinks(st))
		logger.Info().Str("path", st.Path()).Msg("storing pages")
	}

	c, err := crawler.New(opts, deps...)
	if err != nil {
		return nil, fmt.Errorf("failed to create crawler: %w", err)
	}
	result, err := c.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("crawl failed: %w", err)
	}
	return result, nil
}

func writeReport(stdout io.Writer, cfg *config.Config, result *models.CrawlResult, logger zerolog.Logger) error {
	ac := analyzer.DefaultConfig()
	ac.TopN = cfg.Report.TopN
	summary := analyzer.NewWithConfig(ac).Summarize(result)

	report, err := reporter.New().GenerateReport(result, summary, cfg.Report.Format)
	if err != nil {
		return fmt.Errorf("report generation failed: %w", err)
	}

	if cfg.Report.Output == "" {
		_, err = fmt.Fprintln(stdout, report)
		return err
	}
	if err := os.WriteFile(cfg.Report.Output, []byte(report), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Info().Str("path", cfg.Report.Output).Msg("report saved")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
