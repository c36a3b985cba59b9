package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the optional YAML file read before the environment.
const DefaultConfigFile = "reporemix.yaml"

const (
	BackendPostgres  = "postgres"
	BackendSurrealDB = "surrealdb"
)

type Config struct {
	StoreBackend string `yaml:"store_backend"`

	Postgres Postgres `yaml:"postgres"`
	Surreal  Surreal  `yaml:"surreal"`
	GitHub   GitHub   `yaml:"github"`
	Logging  Logging  `yaml:"logging"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

type Surreal struct {
	URL  string `yaml:"url"`
	NS   string `yaml:"ns"`
	DB   string `yaml:"db"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type GitHub struct {
	Token     string        `yaml:"token"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	BatchSize int           `yaml:"batch_size"`
}

type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		StoreBackend: BackendPostgres,
		Postgres: Postgres{
			DSN:             "postgres://localhost:5432/reporemix?sslmode=disable",
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Second,
		},
		Surreal: Surreal{
			NS: "reporemix",
			DB: "reporemix",
		},
		GitHub: GitHub{
			BaseURL:   "https://api.github.com",
			Timeout:   10 * time.Second,
			BatchSize: 10,
		},
		Logging: Logging{
			Level:   "info",
			Format:  "json",
			Service: "reporemix",
		},
	}
}

// Load builds a Config from defaults < YAML < .env < environment. The YAML
// path can be overridden with REPOREMIX_CONFIG; a missing file is not an error.
func Load() (*Config, error) {
	path := os.Getenv("REPOREMIX_CONFIG")
	if path == "" {
		path = DefaultConfigFile
	}
	return LoadFrom(path)
}

func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	_ = godotenv.Load()
	loadEnv(&cfg)

	// The SurrealDB SDK appends /rpc automatically
	cfg.Surreal.URL = strings.TrimSuffix(cfg.Surreal.URL, "/rpc")
	cfg.Surreal.URL = strings.TrimSuffix(cfg.Surreal.URL, "/")

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays non-empty environment variables onto cfg.
func loadEnv(cfg *Config) {
	setString(&cfg.StoreBackend, "STORE_BACKEND")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PG_MAX_CONN_IDLE_TIME")

	setString(&cfg.Surreal.URL, "SURREAL_URL")
	setString(&cfg.Surreal.NS, "SURREAL_NS")
	setString(&cfg.Surreal.DB, "SURREAL_DB")
	setString(&cfg.Surreal.User, "SURREAL_USER")
	setString(&cfg.Surreal.Pass, "SURREAL_PASS")

	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")
	setString(&cfg.GitHub.BaseURL, "GITHUB_API_BASE_URL")
	setDuration(&cfg.GitHub.Timeout, "GITHUB_API_TIMEOUT")
	setInt(&cfg.GitHub.BatchSize, "GITHUB_BATCH_SIZE")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Service, "LOG_SERVICE")
}

func validate(cfg *Config) error {
	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres dsn is required")
		}
	case BackendSurrealDB:
		if cfg.Surreal.URL == "" {
			return errors.New("SURREAL_URL is required for the surrealdb backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if cfg.GitHub.BatchSize <= 0 {
		return fmt.Errorf("github batch size must be positive, got %d", cfg.GitHub.BatchSize)
	}
	if cfg.GitHub.Timeout <= 0 {
		return fmt.Errorf("github timeout must be positive, got %s", cfg.GitHub.Timeout)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

// setDuration accepts Go durations ("10s") or a bare number of milliseconds.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
	}
}
