package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/xxxsen/common/logger"

	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

type Config struct {
	Port       int              `json:"port"`
	LogConfig  logger.LogConfig `json:"log_config"`
	Storage    StorageConfig    `json:"storage"`
	Cache      CacheConfig      `json:"cache"`
	Resilience ResilienceConfig `json:"resilience"`
	Ranking    RankingConfig    `json:"ranking"`
	FileStore  FileStoreConfig  `json:"file_store"`
	Jobs       JobsConfig       `json:"jobs"`
	CORSAllow  []string         `json:"cors_allow"`
}

type StorageConfig struct {
	Type string `json:"type"`
	// VectorDim is fixed per deployment; every embedding written or queried
	// must match it.
	VectorDim   int            `json:"vector_dim"`
	ModelName   string         `json:"model_name"`
	MaxPageSize int            `json:"max_page_size"`
	Local       LocalConfig    `json:"local"`
	Postgres    PostgresConfig `json:"postgres"`
	Astra       AstraConfig    `json:"astra"`
	// ExactFallback bounds the opt-in degraded search mode. Disabled by
	// default: similarity search fails fast when the index path is down.
	ExactFallback ExactFallbackConfig `json:"exact_fallback"`
}

type LocalConfig struct {
	DBPath string `json:"db_path"`
}

type PostgresConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

type AstraConfig struct {
	APIEndpoint string `json:"api_endpoint"`
	Token       string `json:"token"`
	Keyspace    string `json:"keyspace"`
}

type ExactFallbackConfig struct {
	Enabled bool `json:"enabled"`
	// MaxCandidates caps the snapshot of recently indexed embeddings the
	// fallback scans. Never the full table.
	MaxCandidates int `json:"max_candidates"`
}

type CacheConfig struct {
	Size       int `json:"size"`
	TTLSeconds int `json:"ttl_seconds"`
	Shards     int `json:"shards"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type ResilienceConfig struct {
	CallTimeoutMS     int `json:"call_timeout_ms"`
	MaxAttempts       int `json:"max_attempts"`
	InitialBackoffMS  int `json:"initial_backoff_ms"`
	MaxBackoffMS      int `json:"max_backoff_ms"`
	BreakerThreshold  int `json:"breaker_threshold"`
	BreakerCooldownMS int `json:"breaker_cooldown_ms"`
	WorkerPoolSize    int `json:"worker_pool_size"`
}

func (c ResilienceConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

func (c ResilienceConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMS) * time.Millisecond
}

func (c ResilienceConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

func (c ResilienceConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownMS) * time.Millisecond
}

// RankingConfig holds the hybrid fusion weights. They are renormalized over
// the components present for each query, so they need not sum to 1 here.
type RankingConfig struct {
	FTSWeight     float64 `json:"fts_weight"`
	TrigramWeight float64 `json:"trigram_weight"`
	VectorWeight  float64 `json:"vector_weight"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type JobsConfig struct {
	SnapshotRefreshSpec string `json:"snapshot_refresh_spec"`
	StatsWarmSpec       string `json:"stats_warm_spec"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", appErr.ErrConfiguration, err)
	}
	if err := cfg.fillDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) fillDefaults() error {
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.VectorDim == 0 {
		cfg.Storage.VectorDim = 512
	}
	if cfg.Storage.VectorDim < 0 {
		return fmt.Errorf("%w: storage.vector_dim must be positive", appErr.ErrConfiguration)
	}
	if cfg.Storage.ModelName == "" {
		cfg.Storage.ModelName = "laion/clap-htsat-unfused"
	}
	if cfg.Storage.MaxPageSize == 0 {
		cfg.Storage.MaxPageSize = 100
	}
	switch cfg.Storage.Type {
	case "local":
		if cfg.Storage.Local.DBPath == "" {
			return fmt.Errorf("%w: storage.local.db_path is required", appErr.ErrConfiguration)
		}
	case "postgres":
		pg := cfg.Storage.Postgres
		if pg.DSN == "" && (pg.Host == "" || pg.DBName == "") {
			return fmt.Errorf("%w: storage.postgres needs dsn or host/db_name", appErr.ErrConfiguration)
		}
		if cfg.Storage.Postgres.Port == 0 {
			cfg.Storage.Postgres.Port = 5432
		}
		if cfg.Storage.Postgres.SSLMode == "" {
			cfg.Storage.Postgres.SSLMode = "disable"
		}
		if cfg.Storage.Postgres.MaxConns == 0 {
			cfg.Storage.Postgres.MaxConns = 10
		}
	case "astra":
		if cfg.Storage.Astra.APIEndpoint == "" || cfg.Storage.Astra.Token == "" {
			return fmt.Errorf("%w: storage.astra.api_endpoint and token are required", appErr.ErrConfiguration)
		}
		if cfg.Storage.Astra.Keyspace == "" {
			cfg.Storage.Astra.Keyspace = "default_keyspace"
		}
	default:
		return fmt.Errorf("%w: storage.type must be local, postgres or astra", appErr.ErrConfiguration)
	}
	if cfg.Storage.ExactFallback.Enabled && cfg.Storage.ExactFallback.MaxCandidates <= 0 {
		return fmt.Errorf("%w: storage.exact_fallback.max_candidates must be positive when enabled", appErr.ErrConfiguration)
	}
	if cfg.Cache.Size == 0 {
		cfg.Cache.Size = 4096
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 300
	}
	if cfg.Cache.Shards == 0 {
		cfg.Cache.Shards = 16
	}
	if cfg.Resilience.CallTimeoutMS == 0 {
		cfg.Resilience.CallTimeoutMS = 5000
	}
	if cfg.Resilience.MaxAttempts == 0 {
		cfg.Resilience.MaxAttempts = 3
	}
	if cfg.Resilience.InitialBackoffMS == 0 {
		cfg.Resilience.InitialBackoffMS = 100
	}
	if cfg.Resilience.MaxBackoffMS == 0 {
		cfg.Resilience.MaxBackoffMS = 2000
	}
	if cfg.Resilience.BreakerThreshold == 0 {
		cfg.Resilience.BreakerThreshold = 5
	}
	if cfg.Resilience.BreakerCooldownMS == 0 {
		cfg.Resilience.BreakerCooldownMS = 10000
	}
	if cfg.Resilience.WorkerPoolSize == 0 {
		cfg.Resilience.WorkerPoolSize = cfg.Storage.Postgres.MaxConns
	}
	if cfg.Resilience.WorkerPoolSize == 0 {
		cfg.Resilience.WorkerPoolSize = 8
	}
	if cfg.Ranking.FTSWeight == 0 && cfg.Ranking.TrigramWeight == 0 && cfg.Ranking.VectorWeight == 0 {
		cfg.Ranking.FTSWeight = 0.5
		cfg.Ranking.TrigramWeight = 0.3
		cfg.Ranking.VectorWeight = 0.2
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.Jobs.SnapshotRefreshSpec == "" {
		cfg.Jobs.SnapshotRefreshSpec = "*/10 * * * *"
	}
	if cfg.Jobs.StatsWarmSpec == "" {
		cfg.Jobs.StatsWarmSpec = "*/5 * * * *"
	}
	return nil
}
