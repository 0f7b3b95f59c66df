package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"talkie/internal/app"
	"talkie/pkg/config"
	"talkie/pkg/logger"
	"talkie/pkg/models"
	"talkie/pkg/telemetry"
)

func main() {
	_ = godotenv.Load(".env")
	flags := config.ParseConfigFlags()

	cfgPath := config.ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, source, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// explicit flags win over config/env
	if flags.Set["backend"] || cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = flags.Backend
	}
	if flags.Set["socket"] || cfg.Realtime.URL == "" {
		cfg.Realtime.URL = flags.Socket
	}

	logger.InitWithLevel(cfg.Logging.Level)
	logger.Info("talkie_starting", "config_source", source, "backend", cfg.Backend.BaseURL)

	// engine metrics for local inspection
	if addr := os.Getenv("TALKIE_METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", telemetry.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warn("metrics_listen_failed", "addr", addr, "error", err)
			}
		}()
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to start client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.Conv != "" {
		conv := &models.Conversation{ID: flags.Conv, Participants: []string{cfg.Session.SelfID}}
		if err := a.Session().Open(ctx, conv); err != nil {
			logger.Error("open_conversation_failed", "conversation", flags.Conv, "error", err)
		}
		go printLoop(ctx, a)
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("client_run_failed", "error", err)
		os.Exit(1)
	}
}

// printLoop dumps the live message list whenever it changes. Good enough
// for poking at a dev backend; a real UI observes Session.Messages.
func printLoop(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs := a.Session().Messages()
			if len(msgs) == last {
				continue
			}
			last = len(msgs)
			for _, m := range msgs {
				body := m.Text
				if m.Deleted {
					body = "(deleted)"
				}
				logger.Info("message", "id", m.Key(), "from", m.Sender, "body", body)
			}
		}
	}
}
