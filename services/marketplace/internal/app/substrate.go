package app

import (
	"fmt"
	"io"
	"strings"

	"campusmarket/pkg/storage"
	"campusmarket/pkg/store"
)

// Backend names accepted by openSubstrate.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendMinio    = "minio"
)

// SubstrateConfig selects and configures the persistence backend.
type SubstrateConfig struct {
	Backend        string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string
	Minio          storage.MinioConfig
}

// openSubstrate returns the configured backend and, when it holds a
// connection, the closer that releases it.
func openSubstrate(cfg SubstrateConfig) (store.Substrate, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return store.NewMemoryStore(), nil, nil
	case BackendRedis:
		prefix := cfg.RedisKeyPrefix
		if prefix == "" {
			prefix = "campusmarket:"
		}
		s, err := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis store: %w", err)
		}
		return s, s, nil
	case BackendPostgres, BackendMySQL:
		s, err := store.NewGormStore(cfg.Backend, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("init %s store: %w", cfg.Backend, err)
		}
		return s, s, nil
	case BackendMinio:
		s, err := storage.NewMinioStore(cfg.Minio)
		if err != nil {
			return nil, nil, fmt.Errorf("init minio store: %w", err)
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
