package config

import "time"

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Monitor MonitorConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port  int
	Token string // optional bearer token for the HTTP API
}

type StorageConfig struct {
	DataDir string
}

// MonitorConfig tunes the backend status monitor. Durations are kept as
// strings so the backend and env layers stay uniform; parse helpers fall
// back to the default on malformed values.
type MonitorConfig struct {
	ReconnectDelay    string
	MaxReconnectDelay string
	PushTimeout       string
}

type LogConfig struct {
	Level string
}

const (
	defaultReconnectDelay    = 3 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultPushTimeout       = 5 * time.Second
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Monitor: MonitorConfig{
			ReconnectDelay:    defaultReconnectDelay.String(),
			MaxReconnectDelay: defaultMaxReconnectDelay.String(),
			PushTimeout:       defaultPushTimeout.String(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend with
// environment variable overrides.
//
// On macOS the backend is UserDefaults (domain: com.poelink.amrlink).
// On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/amrlink/config.json.
//
// Environment variables (AMRLINK_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func (m MonitorConfig) ReconnectDelayDuration() time.Duration {
	return parseDuration(m.ReconnectDelay, defaultReconnectDelay)
}

func (m MonitorConfig) MaxReconnectDelayDuration() time.Duration {
	return parseDuration(m.MaxReconnectDelay, defaultMaxReconnectDelay)
}

func (m MonitorConfig) PushTimeoutDuration() time.Duration {
	return parseDuration(m.PushTimeout, defaultPushTimeout)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
