package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/earnings-feed/internal/api"
	"github.com/rickgao/earnings-feed/internal/cache"
	"github.com/rickgao/earnings-feed/internal/clock"
	"github.com/rickgao/earnings-feed/internal/config"
	"github.com/rickgao/earnings-feed/internal/connection"
	"github.com/rickgao/earnings-feed/internal/database"
	"github.com/rickgao/earnings-feed/internal/feed"
	"github.com/rickgao/earnings-feed/internal/httpapi"
	"github.com/rickgao/earnings-feed/internal/linkfetch"
	"github.com/rickgao/earnings-feed/internal/model"
	"github.com/rickgao/earnings-feed/internal/notify"
	"github.com/rickgao/earnings-feed/internal/poller"
	"github.com/rickgao/earnings-feed/internal/resources"
	"github.com/rickgao/earnings-feed/internal/version"
	"github.com/rickgao/earnings-feed/internal/writer"
)

// component is anything with the Start/Stop lifecycle.
type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "configs/feedwatch.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting feedwatch",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.RestURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("feedwatch failed", "error", err)
		os.Exit(1)
	}
	logger.Info("feedwatch stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clk := clock.Real{}

	// Cache
	store, err := cache.Open(cache.Options{
		Backend:       cfg.Cache.Backend,
		BoltPath:      cfg.Cache.BoltPath,
		RedisAddr:     cfg.Cache.RedisAddr,
		RedisPassword: cfg.Cache.RedisPassword,
		RedisDB:       cfg.Cache.RedisDB,
		KeyPrefix:     cfg.Cache.KeyPrefix,
		Clock:         clk,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	ttls := cache.TTLs{Short: cfg.Cache.ShortTTL, Medium: cfg.Cache.MediumTTL, Long: cfg.Cache.LongTTL}

	// REST collaborators
	apiClient := api.NewClient(
		cfg.API.RestURL,
		cfg.API.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)
	svc := resources.New(apiClient, store, ttls, logger)

	// Optional archive
	var (
		pool       *pgxpool.Pool
		components []component
		opts       = feed.Options{Clock: clk, Logger: logger}
	)
	if cfg.Database.Enabled {
		pg := cfg.Database.Postgres
		logger.Info("connecting to database", "host", pg.Host, "port", pg.Port, "database", pg.Name)
		pool, err = database.Open(ctx, pg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pool.Close()

		w := writer.NewMessageWriter(writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			BufferSize:    cfg.Writers.BufferSize,
		}, pool, logger)
		opts.OnIngest = w
		components = append(components, w)
	}

	// Optional new-arrival notifications
	if cfg.Kafka.Enabled {
		p := notify.NewPublisher(notify.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			Source:       cfg.Instance.ID,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			BufferSize:   cfg.Kafka.BufferSize,
		}, logger)
		opts.OnArrival = p
		components = append(components, p)
	}

	// Feed loop
	fd := feed.New(feed.Config{
		HighlightWindow: cfg.Feed.HighlightWindow,
		MaxMessages:     cfg.Feed.MaxMessages,
		PreviewLength:   cfg.Feed.PreviewLength,
	}, opts)
	components = append(components, fd)

	// Snapshot poller
	poll := poller.New(poller.Config{
		Interval: cfg.Poller.Interval,
		Timeout:  cfg.Poller.Timeout,
	}, svc, poller.SnapshotHandlerFunc(func(ctx context.Context, s poller.Snapshot) error {
		return fd.ApplySnapshot(ctx, s.Seq, s.Messages)
	}), logger)
	components = append(components, poll)

	// Push channel
	sub := connection.NewSubscriber(connection.SubscriberConfig{
		Client: connection.ClientConfig{
			URL:          cfg.Push.URL,
			APIKey:       cfg.Push.APIKey,
			PingInterval: cfg.Push.PingInterval,
			PingTimeout:  cfg.Push.PingTimeout,
		},
		ReconnectBaseWait: cfg.Push.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Push.ReconnectMaxDelay,
		DeliveredMemory:   cfg.Push.DeliveredMemory,
	}, func(m model.Message) error {
		pushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return fd.Push(pushCtx, m)
	}, func(st connection.State) {
		fd.SetPushState(string(st))
	}, logger)

	// Link previews
	var links httpapi.LinkFetcher
	if cfg.LinkFetch.Enabled {
		links = linkfetch.New(linkfetch.Config{
			UserAgent:      cfg.LinkFetch.UserAgent,
			Timeout:        cfg.LinkFetch.Timeout,
			MaxChars:       cfg.LinkFetch.MaxChars,
			AllowedDomains: cfg.LinkFetch.AllowedDomains,
		}, store, ttls.Long, logger)
	}

	deps := httpapi.Deps{
		Feed:         fd,
		Refresher:    poll,
		Resources:    svc,
		Links:        links,
		CacheBackend: cfg.Cache.Backend,
	}
	if cfg.Push.URL != "" {
		deps.Push = sub
	}
	if pool != nil {
		deps.DB = pool
	}
	server := httpapi.New(httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		SSEKeepAlive:    cfg.HTTP.SSEKeepAlive,
		Mode:            cfg.HTTP.Mode,
	}, deps, logger)

	// Start in dependency order: sinks, feed, then the sources feeding it.
	started := make([]component, 0, len(components))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cfg.Push.URL != "" {
			if err := sub.Stop(shutdownCtx); err != nil {
				logger.Warn("stop push subscriber", "error", err)
			}
		}
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(shutdownCtx); err != nil {
				logger.Warn("stop component", "error", err)
			}
		}
	}()
	for _, c := range components {
		if err := c.Start(ctx); err != nil {
			return err
		}
		started = append(started, c)
	}
	if cfg.Push.URL != "" {
		if err := sub.Start(ctx, cfg.Push.Enabled); err != nil {
			return fmt.Errorf("start push subscriber: %w", err)
		}
	}

	logger.Info("feedwatch running",
		"instance_id", cfg.Instance.ID,
		"http_addr", cfg.HTTP.Addr,
		"cache", cfg.Cache.Backend,
		"archive", cfg.Database.Enabled,
		"notify", cfg.Kafka.Enabled,
		"push", cfg.Push.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if p, ok := store.(purger); ok {
		g.Go(func() error {
			purgeLoop(gctx, p, ttls.Short, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// purger is implemented by backends that only drop expired entries lazily.
type purger interface {
	Purge() int
}

func purgeLoop(ctx context.Context, p purger, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := p.Purge(); n > 0 {
				logger.Debug("purged expired cache entries", "count", n)
			}
		}
	}
}
