package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"allrisfeed/internal/config"
	"allrisfeed/internal/enhance"
	"allrisfeed/internal/ics"
	appLog "allrisfeed/internal/log"
	"allrisfeed/internal/markup"
	"allrisfeed/internal/metrics"
	"allrisfeed/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	appLog.Info("allrisfeed starting", "version", "1.0.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"cache_max_age", conf.Cache.MaxAge,
		"cache_stale_while_revalidate", conf.Cache.StaleWhileRevalidate,
		"feed_timeout", conf.Feed.Timeout,
		"feed_retry_attempts", conf.Feed.RetryAttempts,
		"detail_marker", conf.Detail.Marker,
		"detail_max_concurrency", conf.Detail.MaxConcurrency,
		"detail_timeout", conf.Detail.Timeout,
		"request_timeout", conf.Server.RequestTimeout,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := web.NewServer(conf, newPipeline(conf)).HTTPServer()

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server shutdown error", err)
		os.Exit(1)
	}
	appLog.Info("allrisfeed exiting")
}

// newPipeline wires the enhancement pipeline; feed and detail fetches share
// one HTTP client but keep separate deadlines and retry budgets.
func newPipeline(conf *config.Config) *enhance.Pipeline {
	client := ics.NewHTTPClient()

	feedFetcher := ics.NewFetcher(ics.FetcherOptions{
		Kind:          metrics.KindFeed,
		Timeout:       conf.Feed.Timeout,
		RetryAttempts: conf.Feed.RetryAttempts,
		UserAgent:     conf.Feed.UserAgent,
		Client:        client,
	})
	detailFetcher := ics.NewFetcher(ics.FetcherOptions{
		Kind:          metrics.KindDetail,
		Timeout:       conf.Detail.Timeout,
		RetryAttempts: conf.Detail.RetryAttempts,
		UserAgent:     conf.Feed.UserAgent,
		Client:        client,
	})

	return enhance.New(
		ics.NewFeedSource(feedFetcher),
		detailFetcher,
		markup.LocationExtractor{ID: conf.Detail.LocationID},
		markup.TextConverter{},
		enhance.Slug{},
		ics.Encoder{},
		enhance.Options{
			DetailMarker:   conf.Detail.Marker,
			MaxConcurrency: conf.Detail.MaxConcurrency,
		},
	)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/allrisfeed/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Parse()

	return cfg
}
