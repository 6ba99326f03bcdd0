package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the triage engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Cache      CacheConfig      `yaml:"cache"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Policy     PolicyConfig     `yaml:"policy"`
	Ticketing  TicketingConfig  `yaml:"ticketing"`
	Sources    SourcesConfig    `yaml:"sources"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LedgerConfig selects and configures the audit ledger store.
type LedgerConfig struct {
	// Driver is "postgres" for the durable store or "memory" for mock mode.
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"maxConns"`
	Migrate  bool   `yaml:"migrate"`
}

// CacheConfig controls the optional Redis-backed cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// ClassifierConfig selects the reasoning provider and its guardrails.
type ClassifierConfig struct {
	// Provider is "rules" or "llm".
	Provider        string        `yaml:"provider"`
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"apiKey"`
	Timeout         time.Duration `yaml:"timeout"`
	ConfidenceFloor float64       `yaml:"confidenceFloor"`
	RetryBackoff    time.Duration `yaml:"retryBackoff"`
	CacheTTL        time.Duration `yaml:"cacheTTL"`
}

// PolicyConfig holds the remediation policy parameters.
type PolicyConfig struct {
	MaxRetries  int           `yaml:"maxRetries"`
	BackoffBase time.Duration `yaml:"backoffBase"`
	BackoffCap  time.Duration `yaml:"backoffCap"`
}

// TicketingConfig selects and configures the ticketing provider.
type TicketingConfig struct {
	// Provider is "memory", "postgres", or "http".
	Provider string        `yaml:"provider"`
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
	Queue    string        `yaml:"queue"`
}

// SourcesConfig groups source-system adapter settings.
type SourcesConfig struct {
	Airflow    AirflowConfig    `yaml:"airflow"`
	Databricks DatabricksConfig `yaml:"databricks"`
	Snowflake  SnowflakeConfig  `yaml:"snowflake"`
}

// AirflowConfig configures the Airflow REST API adapter.
type AirflowConfig struct {
	BaseURL  string        `yaml:"baseURL"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DatabricksConfig configures the Databricks Jobs API adapter.
type DatabricksConfig struct {
	Host    string        `yaml:"host"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SnowflakeConfig configures the Snowflake adapter (field extraction only;
// query re-runs are not supported).
type SnowflakeConfig struct {
	Account string `yaml:"account"`
	User    string `yaml:"user"`
}

// Load initialises Config from a YAML file, a .env file if present, and
// environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TRIAGE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Secrets commonly live in a .env next to the binary; absence is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Ledger:  LedgerConfig{Driver: "memory", MaxConns: 10, Migrate: true},
		Cache: CacheConfig{
			Enabled:     false,
			DialTimeout: 2 * time.Second,
		},
		Classifier: ClassifierConfig{
			Provider:        "rules",
			Timeout:         10 * time.Second,
			ConfidenceFloor: 0.6,
			RetryBackoff:    500 * time.Millisecond,
			CacheTTL:        5 * time.Minute,
		},
		Policy: PolicyConfig{
			MaxRetries:  3,
			BackoffBase: 30 * time.Second,
			BackoffCap:  15 * time.Minute,
		},
		Ticketing: TicketingConfig{
			Provider: "memory",
			Timeout:  10 * time.Second,
			Queue:    "DE_ONCALL",
		},
		Sources: SourcesConfig{
			Airflow:    AirflowConfig{Timeout: 10 * time.Second},
			Databricks: DatabricksConfig{Timeout: 10 * time.Second},
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRIAGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TRIAGE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("TRIAGE_LEDGER_DRIVER"); v != "" {
		cfg.Ledger.Driver = v
	}
	if v := os.Getenv("TRIAGE_LEDGER_DSN"); v != "" {
		cfg.Ledger.DSN = v
	}
	if v := os.Getenv("TRIAGE_LEDGER_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.MaxConns = n
		}
	}
	if v := os.Getenv("TRIAGE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("TRIAGE_CACHE_URL"); v != "" {
		cfg.Cache.URL = v
	}
	if v := os.Getenv("TRIAGE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("TRIAGE_CLASSIFIER_PROVIDER"); v != "" {
		cfg.Classifier.Provider = v
	}
	if v := os.Getenv("TRIAGE_CLASSIFIER_ENDPOINT"); v != "" {
		cfg.Classifier.Endpoint = v
	}
	if v := os.Getenv("TRIAGE_CLASSIFIER_API_KEY"); v != "" {
		cfg.Classifier.APIKey = v
	}
	if v := os.Getenv("TRIAGE_CONFIDENCE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Classifier.ConfidenceFloor = f
		}
	}
	if v := os.Getenv("TRIAGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Policy.MaxRetries = n
		}
	}
	if v := os.Getenv("TRIAGE_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Policy.BackoffBase = d
		}
	}
	if v := os.Getenv("TRIAGE_TICKETING_PROVIDER"); v != "" {
		cfg.Ticketing.Provider = v
	}
	if v := os.Getenv("TRIAGE_TICKETING_ENDPOINT"); v != "" {
		cfg.Ticketing.Endpoint = v
	}
	if v := os.Getenv("TRIAGE_TICKETING_API_KEY"); v != "" {
		cfg.Ticketing.APIKey = v
	}
	if v := os.Getenv("TRIAGE_TICKETING_QUEUE"); v != "" {
		cfg.Ticketing.Queue = v
	}
	if v := os.Getenv("AIRFLOW_URL"); v != "" {
		cfg.Sources.Airflow.BaseURL = v
	}
	if v := os.Getenv("AIRFLOW_USERNAME"); v != "" {
		cfg.Sources.Airflow.Username = v
	}
	if v := os.Getenv("AIRFLOW_PASSWORD"); v != "" {
		cfg.Sources.Airflow.Password = v
	}
	if v := os.Getenv("DATABRICKS_HOST"); v != "" {
		cfg.Sources.Databricks.Host = v
	}
	if v := os.Getenv("DATABRICKS_TOKEN"); v != "" {
		cfg.Sources.Databricks.Token = v
	}
	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Sources.Snowflake.Account = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Sources.Snowflake.User = v
	}
}
