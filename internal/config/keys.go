package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "AMRLINK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "AMRLINK_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AMRLINK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "monitor.reconnect_delay", typ: kString, env: "AMRLINK_MONITOR_RECONNECT_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Monitor.ReconnectDelay = v.(string) },
		extract: func(cfg Config) any { return cfg.Monitor.ReconnectDelay },
	},
	{
		key: "monitor.max_reconnect_delay", typ: kString, env: "AMRLINK_MONITOR_MAX_RECONNECT_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Monitor.MaxReconnectDelay = v.(string) },
		extract: func(cfg Config) any { return cfg.Monitor.MaxReconnectDelay },
	},
	{
		key: "monitor.push_timeout", typ: kString, env: "AMRLINK_MONITOR_PUSH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Monitor.PushTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Monitor.PushTimeout },
	},
	{
		key: "log.level", typ: kString, env: "AMRLINK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
