package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config configures the sync agent.
type Config struct {
	APIBaseURL           string        `env:"API_BASE_URL,required=true"`
	WSBaseURL            string        `env:"WS_BASE_URL,required=true"`
	RealtimeTopics       string        `env:"REALTIME_TOPICS,default=notifications dashboard"`
	StoreBackend         string        `env:"STORE_BACKEND,default=redis"`
	RedisURL             string        `env:"REDIS_URL,default=redis://localhost:6379/0"`
	DatabaseDSN          string        `env:"DATABASE_DSN"`
	StoreNamespace       string        `env:"STORE_NAMESPACE,default=notify-sync"`
	RetentionDays        int           `env:"RETENTION_DAYS,default=7"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL,default=24h"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS,default=5"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY,default=1s"`
	HandshakeTimeout     time.Duration `env:"HANDSHAKE_TIMEOUT,default=10s"`
	ReplayTimeout        time.Duration `env:"REPLAY_TIMEOUT,default=15s"`
	ReplayConcurrency    int           `env:"REPLAY_CONCURRENCY,default=8"`
	ReplayRatePerSec     int           `env:"REPLAY_RATE_PER_SEC,default=20"`
	StaleAfter           time.Duration `env:"STALE_AFTER,default=5m"`
	StaleScanInterval    time.Duration `env:"STALE_SCAN_INTERVAL,default=1m"`
	ProbeURL             string        `env:"PROBE_URL"`
	ProbeInterval        time.Duration `env:"PROBE_INTERVAL,default=10s"`
	APIPort              int           `env:"API_PORT,default=8090"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
	LogFormat            string        `env:"LOG_FORMAT,default=json"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendRedis, StoreBackendMemory:
	case StoreBackendPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("DATABASE_DSN is required for the postgres store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be >= 1")
	}
	if len(c.Topics()) == 0 {
		return fmt.Errorf("REALTIME_TOPICS must name at least one topic")
	}
	return nil
}

// Topics returns the configured realtime topics (comma or space separated), de-duplicated.
func (c *Config) Topics() []string {
	fields := strings.FieldsFunc(c.RealtimeTopics, func(r rune) bool {
		return r == ',' || r == ' '
	})

	seen := make(map[string]struct{})
	topics := make([]string, 0, len(fields))
	for _, topic := range fields {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
	}
	return topics
}

// Retention returns the notification retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ProbeTarget returns the connectivity probe URL, defaulting to the API base.
func (c *Config) ProbeTarget() string {
	if target := strings.TrimSpace(c.ProbeURL); target != "" {
		return target
	}
	return c.APIBaseURL
}

// GatewayConfig configures the realtime gateway.
type GatewayConfig struct {
	RabbitMQURL    string        `env:"RABBITMQ_URL,required=true"`
	AuthSecret     string        `env:"AUTH_SECRET,required=true"`
	GatewayPort    int           `env:"GATEWAY_PORT,default=8000"`
	PingPeriod     time.Duration `env:"PING_PERIOD,default=45s"`
	PongTimeout    time.Duration `env:"PONG_TIMEOUT,default=15s"`
	AllowedOrigins string        `env:"ALLOWED_ORIGINS"`
	RelayWorkers   int           `env:"RELAY_WORKERS,default=2"`
	RelayPrefetch  int           `env:"RELAY_PREFETCH,default=20"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
	LogFormat      string        `env:"LOG_FORMAT,default=json"`
}

func LoadGateway() (*GatewayConfig, error) {
	var cfg GatewayConfig
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load gateway config: %w", err)
	}
	return &cfg, nil
}

// Origins returns the allowed websocket origin patterns.
func (c *GatewayConfig) Origins() []string {
	var origins []string
	for _, raw := range strings.Split(c.AllowedOrigins, ",") {
		if origin := strings.TrimSpace(raw); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
