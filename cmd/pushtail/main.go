// pushtail connects to the earnings push channel and prints each message to
// the console. It is a debugging aid; nothing is cached or archived.
//
// Usage: go run ./cmd/pushtail --config configs/feedwatch.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rickgao/earnings-feed/internal/config"
	"github.com/rickgao/earnings-feed/internal/connection"
	"github.com/rickgao/earnings-feed/internal/model"
	"github.com/rickgao/earnings-feed/internal/preview"
)

func main() {
	configPath := flag.String("config", "configs/feedwatch.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	previewLen := flag.Int("preview", preview.DefaultLength, "preview length in runes")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Push.URL == "" {
		logger.Error("push.url is not set", "config", *configPath)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var received atomic.Int64
	sub := connection.NewSubscriber(connection.SubscriberConfig{
		Client: connection.ClientConfig{
			URL:          cfg.Push.URL,
			APIKey:       cfg.Push.APIKey,
			PingInterval: cfg.Push.PingInterval,
			PingTimeout:  cfg.Push.PingTimeout,
		},
		ReconnectBaseWait: cfg.Push.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Push.ReconnectMaxDelay,
	}, func(m model.Message) error {
		received.Add(1)
		printMessage(m, *verbose, *previewLen)
		return nil
	}, func(st connection.State) {
		logger.Info("push state", "state", st)
	}, logger)

	if err := sub.Start(ctx, true); err != nil {
		logger.Error("failed to start push subscriber", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats", "state", sub.State(), "received", received.Load())
			}
		}
	}()

	logger.Info("tailing push channel - press Ctrl+C to stop", "url", cfg.Push.URL)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub.Stop(shutdownCtx)
	logger.Info("shutdown complete", "received", received.Load())
}

func printMessage(m model.Message, verbose bool, previewLen int) {
	if verbose {
		data, _ := json.MarshalIndent(m, "", "  ")
		fmt.Printf("[MESSAGE] %s\n", data)
		return
	}
	ts := m.Timestamp.Local().Format("15:04:05")
	if m.HasLink() {
		fmt.Printf("[LINK] %s %s %s %s\n", ts, m.Subject(), m.ID, m.Link)
		return
	}
	fmt.Printf("[DATA] %s %s %s %s\n", ts, m.Subject(), m.ID, preview.Parse(m.Content, previewLen).String())
}
