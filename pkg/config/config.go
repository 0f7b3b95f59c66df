package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEffective merges the config file (when present) with environment
// overrides. Env values win over file values so deployments can patch a
// single knob without editing the file. Returns the merged config and the
// source description ("config", "env", "config+env" or "defaults").
func LoadEffective(path string) (*Config, string, error) {
	cfg := &Config{}
	source := "defaults"

	if path != "" {
		fileCfg, err := Load(path)
		if err == nil {
			cfg = fileCfg
			source = "config"
		} else if !os.IsNotExist(err) {
			return nil, "", err
		}
	}

	envCfg, envUsed := ParseConfigEnvs()
	if envUsed {
		mergeConfig(cfg, envCfg)
		if source == "config" {
			source = "config+env"
		} else {
			source = "env"
		}
	}

	applyDefaults(cfg)
	return cfg, source, nil
}

// mergeConfig copies non-zero fields of src over dst.
func mergeConfig(dst, src *Config) {
	if src.Backend.BaseURL != "" {
		dst.Backend.BaseURL = src.Backend.BaseURL
	}
	if src.Backend.Token != "" {
		dst.Backend.Token = src.Backend.Token
	}
	if src.Backend.Client != "" {
		dst.Backend.Client = src.Backend.Client
	}
	if src.Backend.Timeout != 0 {
		dst.Backend.Timeout = src.Backend.Timeout
	}
	if src.Realtime.URL != "" {
		dst.Realtime.URL = src.Realtime.URL
	}
	if src.Session.SelfID != "" {
		dst.Session.SelfID = src.Session.SelfID
	}
	if src.Session.TypingQuiet != 0 {
		dst.Session.TypingQuiet = src.Session.TypingQuiet
	}
	if src.Ingest.QueueCapacity != 0 {
		dst.Ingest.QueueCapacity = src.Ingest.QueueCapacity
	}
	if src.Resync.Cron != "" {
		dst.Resync.Cron = src.Resync.Cron
		dst.Resync.Enabled = true
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Backend.Client == "" {
		cfg.Backend.Client = "nethttp"
	}
	if cfg.Ingest.QueueCapacity == 0 {
		cfg.Ingest.QueueCapacity = 4096
	}
	if cfg.Ingest.DeferredReceipts == 0 {
		cfg.Ingest.DeferredReceipts = 256
	}
	if cfg.Realtime.TypingRPS == 0 {
		cfg.Realtime.TypingRPS = 1
	}
	if cfg.Realtime.TypingBurst == 0 {
		cfg.Realtime.TypingBurst = 3
	}
}
