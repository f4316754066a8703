package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/zeromicro/go-zero/core/logx"

	"seriesfeed/internal/config"
	"seriesfeed/internal/fault"
	"seriesfeed/internal/httpx"
	"seriesfeed/internal/pipeline"
	"seriesfeed/internal/provider"
	"seriesfeed/internal/provider/alphavantage"
	"seriesfeed/internal/provider/cache"
	"seriesfeed/internal/provider/csvurl"
	"seriesfeed/internal/provider/fred"
	"seriesfeed/internal/provider/ratelimit"
	"seriesfeed/internal/recorder"
	"seriesfeed/internal/store"
)

// loadConfig bootstraps .env, reads the configuration and narrows it to
// only. Credentials are checked when strict is set.
func loadConfig(only []string, strict bool) (config.Config, error) {
	if err := config.LoadDotenv(); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}
	setLevel(cfg.LogLevel)
	if err := cfg.Select(only); err != nil {
		return cfg, err
	}
	if strict {
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func setLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logx.SetLevel(logx.DebugLevel)
	case "error":
		logx.SetLevel(logx.ErrorLevel)
	case "severe":
		logx.SetLevel(logx.SevereLevel)
	default:
		logx.SetLevel(logx.InfoLevel)
	}
}

// buildProviders constructs one adapter per source type, wrapped in the
// configured rate limiter and response cache.
func buildProviders(cfg config.Config) map[string]provider.Provider {
	httpClient := httpx.New(cfg.RequestTimeout)

	fredOpts := []fred.Option{fred.WithHTTPClient(httpClient), fred.WithStart(cfg.Providers.FRED.Start)}
	if cfg.Providers.FRED.BaseURL != "" {
		fredOpts = append(fredOpts, fred.WithBaseURL(cfg.Providers.FRED.BaseURL))
	}
	if cfg.Providers.FRED.MaxPages > 0 {
		fredOpts = append(fredOpts, fred.WithPaging(0, cfg.Providers.FRED.MaxPages))
	}
	avOpts := []alphavantage.Option{alphavantage.WithHTTPClient(httpClient)}
	if cfg.Providers.AlphaVantage.BaseURL != "" {
		avOpts = append(avOpts, alphavantage.WithBaseURL(cfg.Providers.AlphaVantage.BaseURL))
	}

	return map[string]provider.Provider{
		provider.TypeFRED:         limit(fred.New(cfg.Providers.FRED.APIKey, fredOpts...), cfg.Providers.FRED),
		provider.TypeAlphaVantage: limit(alphavantage.New(cfg.Providers.AlphaVantage.APIKey, avOpts...), cfg.Providers.AlphaVantage),
		provider.TypeCSV:          limit(csvurl.New(csvurl.WithHTTPClient(httpClient)), cfg.Providers.CSV),
	}
}

// limit decorates p with its limiter, then with the cache so that hits do not
// spend rate budget.
func limit(p provider.Provider, pc config.Provider) provider.Provider {
	switch {
	case pc.MaxRequestsPerMinute > 0:
		p = &ratelimit.TokenBucketProvider{P: p, TB: ratelimit.PerMinute(pc.MaxRequestsPerMinute, pc.Burst)}
	case pc.MinRequestInterval > 0:
		p = &ratelimit.MinInterval{P: p, Interval: pc.MinRequestInterval}
	}
	if pc.CacheTTL > 0 {
		p = &cache.Provider{P: p, TTL: pc.CacheTTL, MaxItems: 256}
	}
	return p
}

// openRecorder falls back to the no-op recorder when history cannot be
// opened; history never decides the exit status.
func openRecorder(cfg config.Config) recorder.Recorder {
	if cfg.HistoryDB == "" {
		return recorder.NewNoopRecorder()
	}
	r, err := recorder.NewSQLiteRecorder(cfg.HistoryDB)
	if err != nil {
		logx.Errorf("run history disabled: %v", err)
		return recorder.NewNoopRecorder()
	}
	return r
}

func newPipeline(cfg config.Config, dryRun bool) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Providers:      buildProviders(cfg),
		Writer:         store.New(cfg.OutputDir),
		Concurrency:    cfg.Concurrency,
		RequestTimeout: cfg.RequestTimeout,
		DryRun:         dryRun,
	}
}

// exitStatus maps an error to the process exit status: 2 for configuration
// problems, 1 for anything else.
func exitStatus(err error) subcommands.ExitStatus {
	switch {
	case err == nil:
		return subcommands.ExitSuccess
	case fault.KindOf(err) == fault.KindConfig:
		return subcommands.ExitUsageError
	default:
		return subcommands.ExitFailure
	}
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitStatus(err)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
