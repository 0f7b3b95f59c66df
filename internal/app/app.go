// Package app wires configuration into a running client: logger, REST
// client, realtime transport, session and resync scheduler.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"talkie/internal/resync"
	"talkie/pkg/api"
	"talkie/pkg/config"
	"talkie/pkg/httpx"
	"talkie/pkg/ingest"
	"talkie/pkg/logger"
	"talkie/pkg/outbound"
	"talkie/pkg/realtime"
	"talkie/pkg/session"
	"talkie/pkg/validation"
)

// App encapsulates the client components and lifecycle.
type App struct {
	cfg  *config.Config
	sess *session.Session
	conn *realtime.Conn

	cancelResync context.CancelFunc
}

// New builds the client from configuration. It dials the realtime socket
// but does not open a conversation; call Session().Open for that.
func New(cfg *config.Config) (*App, error) {
	_ = godotenv.Load(".env")

	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend base_url is required")
	}
	if cfg.Session.SelfID == "" {
		return nil, fmt.Errorf("session self_id is required")
	}

	validation.SetRules(validation.Rules{MaxTextLen: 64 * 1024})
	ingest.SetMaxPooledBuffer(int(cfg.Ingest.MaxPooledBufferBytes.Int64()))

	var doer httpx.Doer
	switch cfg.Backend.Client {
	case "fasthttp":
		doer = httpx.NewFastHTTPDoer(cfg.Backend.Timeout.Or(15 * time.Second))
	default:
		doer = httpx.NewNetHTTPDoer(cfg.Backend.Timeout.Or(15 * time.Second))
	}
	client := api.New(cfg.Backend.BaseURL, cfg.Backend.Token, doer)

	var conn *realtime.Conn
	if cfg.Realtime.URL != "" {
		var err error
		conn, err = realtime.Dial(realtime.Options{
			URL:         cfg.Realtime.URL,
			Token:       cfg.Backend.Token,
			PingEvery:   cfg.Realtime.PingEvery.Std(),
			PongWait:    cfg.Realtime.PongWait.Std(),
			TypingRPS:   cfg.Realtime.TypingRPS,
			TypingBurst: cfg.Realtime.TypingBurst,
		})
		if err != nil {
			return nil, err
		}
	}

	opts := session.Options{
		Client:        client,
		SelfID:        cfg.Session.SelfID,
		SeenOnOpen:    cfg.Session.SeenOnOpen,
		TypingQuiet:   cfg.Session.TypingQuiet.Std(),
		QueueCapacity: cfg.Ingest.QueueCapacity,
		DeferredCap:   cfg.Ingest.DeferredReceipts,
		OnSendFailed: func(tempID string, err error) {
			logger.Warn("send_rolled_back", "temp_id", tempID, "error", err)
		},
	}
	if conn != nil {
		opts.Transport = conn
	}
	sess := session.New(opts)

	return &App{cfg: cfg, sess: sess, conn: conn}, nil
}

// Run starts the resync scheduler and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	cancel, err := resync.Start(ctx, a.cfg.Resync, a.sess)
	if err != nil {
		return err
	}
	a.cancelResync = cancel
	<-ctx.Done()
	a.Close()
	return nil
}

// Session exposes the conversation session to the binary.
func (a *App) Session() *session.Session { return a.sess }

// Compose is re-exported so binaries need not import outbound directly.
type Compose = outbound.Compose

// Close tears the client down.
func (a *App) Close() {
	if a.cancelResync != nil {
		a.cancelResync()
	}
	a.sess.Close()
	if a.conn != nil {
		_ = a.conn.Close()
	}
	logger.Sync()
}
