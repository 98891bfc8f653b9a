package main

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/browser"
	"github.com/maltedev/kleinanzeigen-scraper/internal/collector"
	"github.com/maltedev/kleinanzeigen-scraper/internal/config"
	"github.com/maltedev/kleinanzeigen-scraper/internal/database"
	"github.com/maltedev/kleinanzeigen-scraper/internal/events"
	"github.com/maltedev/kleinanzeigen-scraper/internal/fetcher"
	"github.com/maltedev/kleinanzeigen-scraper/internal/images"
	"github.com/maltedev/kleinanzeigen-scraper/internal/jobs"
	"github.com/maltedev/kleinanzeigen-scraper/internal/parser"
	"github.com/maltedev/kleinanzeigen-scraper/internal/pipeline"
	"github.com/maltedev/kleinanzeigen-scraper/internal/ratelimit"
)

// app holds the long-lived pieces shared by all runs of one process.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	browser *browser.Browser
	limiter *ratelimit.Delay
	sinks   []pipeline.Sink
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Scraper.UseBrowser {
		a.limiter = ratelimit.NewDelay(cfg.Scraper.Delay)
		b, err := browser.New(browserOptions(cfg), a.limiter, logger)
		if err != nil {
			return nil, err
		}
		a.browser = b
		a.closers = append(a.closers, func() {
			if err := b.Close(); err != nil {
				logger.Warn("browser close failed", zap.Error(err))
			}
		})
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close() //nolint:errcheck
			a.Close()
			return nil, eris.Wrap(err, "connect to redis")
		}
		pub := events.NewPublisher(client, cfg.Redis.Stream, logger)
		a.sinks = append(a.sinks, pub)
		a.closers = append(a.closers, func() { _ = pub.Close() })
	}

	if cfg.Database.URL != "" {
		db, err := database.New(ctx, database.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
		if err != nil {
			a.Close()
			return nil, err
		}
		store := database.NewListingStore(db.Pool(), logger)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			a.Close()
			return nil, err
		}
		a.sinks = append(a.sinks, store)
		a.closers = append(a.closers, db.Close)
	}

	return a, nil
}

// runner builds a pipeline for one run. The HTTP fetcher is created per run
// so every run starts with a fresh cookie jar.
func (a *app) runner(ctx context.Context, delay time.Duration) (*pipeline.Pipeline, error) {
	var f fetcher.Fetcher
	if a.browser != nil {
		a.limiter.SetDelay(delay)
		f = a.browser
	} else {
		hf, err := fetcher.NewHTTPFetcher(httpOptions(a.cfg), ratelimit.NewDelay(delay), a.logger)
		if err != nil {
			return nil, err
		}
		if a.cfg.Scraper.Warmup {
			hf.Warmup(ctx)
		}
		f = hf
	}

	c := collector.New(f, collectorOptions(a.cfg), a.logger)
	r := images.NewRetriever(f, a.logger)
	return pipeline.New(f, c, parser.NewListingParser(), r, a.logger), nil
}

// runnerFactory adapts runner to jobs.RunnerFactory.
func (a *app) runnerFactory(ctx context.Context) jobs.RunnerFactory {
	return func(delay time.Duration) (jobs.Runner, error) {
		p, err := a.runner(ctx, delay)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func httpOptions(cfg *config.Config) fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		BaseURL:          cfg.Scraper.BaseURL,
		UserAgent:        cfg.Scraper.UserAgent,
		AcceptLanguage:   cfg.Scraper.AcceptLanguage,
		Cookie:           cfg.Scraper.Cookie,
		Timeout:          cfg.Scraper.Timeout,
		ImageTimeout:     cfg.Scraper.ImageTimeout,
		CloudflareBypass: cfg.Scraper.CloudflareBypass,
	}
}

func browserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	if cfg.Browser.Timeout > 0 {
		opts.Timeout = cfg.Browser.Timeout
	}
	if cfg.Browser.ViewportWidth > 0 && cfg.Browser.ViewportHeight > 0 {
		opts.ViewportWidth = cfg.Browser.ViewportWidth
		opts.ViewportHeight = cfg.Browser.ViewportHeight
	}
	if cfg.Browser.TimezoneID != "" {
		opts.TimezoneID = cfg.Browser.TimezoneID
	}
	if cfg.Browser.Locale != "" {
		opts.Locale = cfg.Browser.Locale
	}
	if cfg.Scraper.UserAgent != "" {
		opts.UserAgent = cfg.Scraper.UserAgent
	}
	if cfg.Scraper.AcceptLanguage != "" {
		opts.AcceptLanguage = cfg.Scraper.AcceptLanguage
	}
	opts.Cookie = cfg.Scraper.Cookie
	return opts
}

func collectorOptions(cfg *config.Config) collector.Options {
	opts := collector.DefaultOptions()
	opts.MaxPages = cfg.Scraper.MaxPages
	opts.InventoryFallback = cfg.Scraper.InventoryFallback
	if cfg.Scraper.InventoryThreshold > 0 {
		opts.InventoryThreshold = cfg.Scraper.InventoryThreshold
	}
	if base := strings.TrimRight(cfg.Scraper.BaseURL, "/"); base != "" {
		opts.Referer = base + "/"
		opts.InventoryURL = base + "/s-bestandsliste.html?userId=%s"
	}
	return opts
}
