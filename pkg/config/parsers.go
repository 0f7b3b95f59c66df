package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Backend string
	Socket  string
	Config  string
	Conv    string
	Set     map[string]bool
}

// ParseConfigFlags parses command-line flags and returns them as a Flags
// struct. Flags win over config file and env when explicitly provided.
func ParseConfigFlags() Flags {
	backendPtr := flag.String("backend", "http://127.0.0.1:8080", "REST backend base URL")
	socketPtr := flag.String("socket", "ws://127.0.0.1:8080/ws", "realtime socket URL")
	cfgPtr := flag.String("config", "./talkie.yaml", "Path to config file")
	convPtr := flag.String("conv", "", "Conversation id to open on start")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Backend: *backendPtr, Socket: *socketPtr, Config: *cfgPtr, Conv: *convPtr, Set: setFlags}
}

// ParseConfigEnvs reads environment variables into a fresh Config and
// reports whether any were present. This function does not mutate any
// caller-provided config.
func ParseConfigEnvs() (*Config, bool) {
	envCfg := &Config{}
	envUsed := false

	if v := os.Getenv("TALKIE_BACKEND_URL"); v != "" {
		envUsed = true
		envCfg.Backend.BaseURL = v
	}
	if v := os.Getenv("TALKIE_BACKEND_TOKEN"); v != "" {
		envUsed = true
		envCfg.Backend.Token = v
	}
	if v := os.Getenv("TALKIE_BACKEND_CLIENT"); v != "" {
		envUsed = true
		envCfg.Backend.Client = v
	}
	if v := os.Getenv("TALKIE_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			envUsed = true
			envCfg.Backend.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("TALKIE_REALTIME_URL"); v != "" {
		envUsed = true
		envCfg.Realtime.URL = v
	}
	if v := os.Getenv("TALKIE_SELF_ID"); v != "" {
		envUsed = true
		envCfg.Session.SelfID = v
	}
	if v := os.Getenv("TALKIE_TYPING_QUIET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			envUsed = true
			envCfg.Session.TypingQuiet = Duration(d)
		}
	}
	if v := os.Getenv("TALKIE_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			envUsed = true
			envCfg.Ingest.QueueCapacity = n
		}
	}
	if v := os.Getenv("TALKIE_RESYNC_CRON"); v != "" {
		envUsed = true
		envCfg.Resync.Cron = v
	}
	if v := os.Getenv("TALKIE_LOG_LEVEL"); v != "" {
		envUsed = true
		envCfg.Logging.Level = v
	}
	return envCfg, envUsed
}

// ResolveConfigPath returns the config path to use. An explicit flag wins;
// otherwise the TALKIE_CONFIG env var, then the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("TALKIE_CONFIG"); v != "" {
		return v
	}
	return flagVal
}
