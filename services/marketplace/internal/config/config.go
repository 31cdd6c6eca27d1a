package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, overridable with MARKETPLACE_CONFIG.
var ConfigPath = "config.yaml"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendMinio    = "minio"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	StoreBackend   string `yaml:"storeBackend"`
	DatabaseURL    string `yaml:"databaseURL"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	RedisKeyPrefix string `yaml:"redisKeyPrefix"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MinioPrefix    string `yaml:"minioPrefix"`
	Seed           *bool  `yaml:"seed"`

	LatencyMin    string `yaml:"latencyMin"`
	LatencyJitter string `yaml:"latencyJitter"`

	IdentityServiceURL string `yaml:"identityServiceURL"`
	IdentityJWKSURL    string `yaml:"identityJwksURL"`
	JWTIssuer          string `yaml:"jwtIssuer"`
	JWTAudience        string `yaml:"jwtAudience"`
	JWTLeeway          string `yaml:"jwtLeeway"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`
	// EventsStream publishes events to this Redis stream when amqpURL is empty.
	EventsStream       string `yaml:"eventsStream"`
	EventsStreamMaxLen int64  `yaml:"eventsStreamMaxLen"`

	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"`
	CORSAllowedOrigins        []string `yaml:"corsAllowedOrigins"`
	BidRateLimitPerMinute     int      `yaml:"bidRateLimitPerMinute"`
	MessageRateLimitPerMinute int      `yaml:"messageRateLimitPerMinute"`
}

// Load reads config from path (defaults to MARKETPLACE_CONFIG, then config.yaml),
// applies environment overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if v := strings.TrimSpace(os.Getenv("MARKETPLACE_CONFIG")); v != "" {
		path = v
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendMemory
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(env string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("MARKETPLACE_STORE_BACKEND", &cfg.StoreBackend)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("MARKETPLACE_REDIS_KEY_PREFIX", &cfg.RedisKeyPrefix)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("MARKETPLACE_SEED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Seed = &b
		}
	}
	setString("MARKETPLACE_LATENCY_MIN", &cfg.LatencyMin)
	setString("MARKETPLACE_LATENCY_JITTER", &cfg.LatencyJitter)
	setString("IDENTITY_SERVICE_URL", &cfg.IdentityServiceURL)
	setString("IDENTITY_JWKS_URL", &cfg.IdentityJWKSURL)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	setString("AMQP_URL", &cfg.AMQPURL)
	setString("AMQP_EXCHANGE", &cfg.AMQPExchange)
	setString("MARKETPLACE_EVENTS_STREAM", &cfg.EventsStream)
	if v := os.Getenv("MARKETPLACE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("MARKETPLACE_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("MARKETPLACE_BID_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.BidRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("MARKETPLACE_MESSAGE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MessageRateLimitPerMinute = n
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis store backend")
		}
	case BackendPostgres, BackendMySQL:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return fmt.Errorf("config: databaseURL is required for the %s store backend", cfg.StoreBackend)
		}
	case BackendMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for the minio store backend")
		}
	default:
		return fmt.Errorf("config: unknown storeBackend %q", cfg.StoreBackend)
	}
	if strings.TrimSpace(cfg.IdentityServiceURL) == "" {
		return errors.New("config: identityServiceURL is required (set in config.yaml or IDENTITY_SERVICE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if cfg.BidRateLimitPerMinute < 0 || cfg.MessageRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.EventsStreamMaxLen < 0 {
		return errors.New("config: eventsStreamMaxLen must be >= 0")
	}
	for name, raw := range map[string]string{
		"latencyMin":    cfg.LatencyMin,
		"latencyJitter": cfg.LatencyJitter,
		"jwtLeeway":     cfg.JWTLeeway,
	} {
		if _, err := ParseDuration(raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// SeedEnabled reports whether absent tables get sample data. Defaults to true.
func (c FileConfig) SeedEnabled() bool {
	return c.Seed == nil || *c.Seed
}

// ParseDuration parses an optional, non-negative duration string.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
