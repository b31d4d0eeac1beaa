package appconfig

import (
	"fmt"

	"github.com/spf13/viper"
)

// Default returns a Config matching the server's out-of-the-box posture: a
// single plaintext listener, a small worker pool and rate limiting off.
func Default() *Config {
	return &Config{
		Listen: []ListenConfig{
			{Address: ":8080", Workers: 1, Backlog: 1024},
		},
		Pool: PoolConfig{
			Workers:       4,
			QueueCapacity: 256,
			RequestTime:   "30s",
		},
		RateLimit: RateLimitConfig{
			Enabled:  false,
			Requests: 100,
			Window:   "1m",
		},
		Executor: ExecutorConfig{
			Kind:      "stub",
			IndexFile: "index.php",
			Heartbeat: "5s",
		},
		Timeouts: TimeoutsConfig{
			IdlePeek:      "2s",
			HeaderRead:    "5s",
			Handshake:     "10s",
			ShutdownDrain: "30s",
		},
		Log: LogConfig{Level: "info"},
		FileCache: FileCacheConfig{
			Enabled:  true,
			Capacity: 512,
			TTL:      "5m",
		},
		Health: HealthConfig{Enabled: true, Address: ":9090"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads configuration from the named file (any format viper supports:
// yaml, toml, json), merges it onto Default, and validates the result.
// Environment variables prefixed FENRIR_ override only keys the file itself
// sets, looked up under the key's dotted name (no key replacer is set); with
// an empty path no file and no environment variable is read.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("fenrir")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %q: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("decoding config %q: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
