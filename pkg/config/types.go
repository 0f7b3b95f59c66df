package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Session  SessionConfig  `yaml:"session"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Resync   ResyncConfig   `yaml:"resync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BackendConfig holds the REST endpoint settings.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	// Client selects the HTTP backend: "nethttp" (default) or "fasthttp".
	Client  string   `yaml:"client"`
	Timeout Duration `yaml:"timeout"`
}

// RealtimeConfig holds socket settings.
type RealtimeConfig struct {
	URL       string   `yaml:"url"`
	PingEvery Duration `yaml:"ping_every"`
	PongWait  Duration `yaml:"pong_wait"`
	// TypingRPS throttles emitted typing events.
	TypingRPS   float64 `yaml:"typing_rps"`
	TypingBurst int     `yaml:"typing_burst"`
}

// SessionConfig controls open-conversation behavior.
type SessionConfig struct {
	SelfID string `yaml:"self_id"`
	// SeenOnOpen emits a batched seen ack for unread history when a
	// conversation is opened.
	SeenOnOpen bool `yaml:"seen_on_open"`
	// TypingQuiet expires a peer's typing indicator when no stop event
	// arrives within this window.
	TypingQuiet Duration `yaml:"typing_quiet"`
}

// IngestConfig holds event queue tunables.
type IngestConfig struct {
	QueueCapacity        int       `yaml:"queue_capacity"`
	MaxPooledBufferBytes SizeBytes `yaml:"max_pooled_buffer_bytes"`
	// DeferredReceipts caps the buffer of receipts parked for messages
	// the store has not seen yet.
	DeferredReceipts int `yaml:"deferred_receipts"`
}

// ResyncConfig holds configuration for the periodic history refetch.
type ResyncConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if v, err := time.ParseDuration(raw); err == nil {
		*d = Duration(v)
		return nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Or returns the duration, or def when unset.
func (d Duration) Or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}
