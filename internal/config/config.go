// Package config loads process configuration from an optional YAML file,
// CARBON_* environment variables and defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dvloznov/grocery-carbon/internal/catalogue"
	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/embedding"
	"github.com/dvloznov/grocery-carbon/internal/estimate"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

// EnvPrefix prefixes every environment override, e.g. CARBON_STORE_DSN.
const EnvPrefix = "CARBON"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverBigQuery = "bigquery"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Catalogue CatalogueConfig `mapstructure:"catalogue"`
	Methods   MethodsConfig   `mapstructure:"methods"`
	Merge     MergeConfig     `mapstructure:"merge"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type StoreConfig struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	Dimension      int    `mapstructure:"dimension"`
	BatchSize      int    `mapstructure:"batch_size"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Backend        string `mapstructure:"backend"`
	Project        string `mapstructure:"project"`
	Location       string `mapstructure:"location"`
	QueryPrefix    string `mapstructure:"query_prefix"`
	DocumentPrefix string `mapstructure:"document_prefix"`
	Cache          bool   `mapstructure:"cache"`
}

// CatalogueConfig names the dataset sources: builtin:<name>, gs://bucket/object or a file path.
type CatalogueConfig struct {
	Items      string  `mapstructure:"items"`
	Categories string  `mapstructure:"categories"`
	MinScore   float64 `mapstructure:"min_score"`
}

type MethodsConfig struct {
	Item     bool `mapstructure:"item"`
	Category bool `mapstructure:"category"`
	Merchant bool `mapstructure:"merchant"`
	MCC      bool `mapstructure:"mcc"`
}

type MergeConfig struct {
	Policy string `mapstructure:"policy"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	Buffer      int `mapstructure:"buffer"`
	MaxRetries  int `mapstructure:"max_retries"`

	// PollInterval is how often the worker looks for unestimated
	// transactions. Zero scans once at startup.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load reads configFile, or ./config.yaml and ./configs/config.yaml when
// configFile is empty, then applies environment overrides and validates.
func Load(ctx context.Context, configFile string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	log := logger.Component(ctx, "config")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			log.Debug().Msg("No config file found, using defaults and environment")
		} else {
			return Config{}, fmt.Errorf("config.Load: read %q: %w: %w", configFile, domain.ErrConfiguration, err)
		}
	} else {
		log.Info().Str("path", v.ConfigFileUsed()).Msg("Using config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config.Load: unmarshal: %w: %w", domain.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}

	log.Debug().
		Str("store", cfg.Store.Driver).
		Str("embedding", cfg.Embedding.Provider).
		Strs("methods", methodNames(cfg.EnabledMethods())).
		Str("merge_policy", cfg.Merge.Policy).
		Msg("Config loaded")
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "data/carbon.db")
	v.SetDefault("store.project", "")
	v.SetDefault("store.dataset", "carbon")

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.dimension", 0)
	v.SetDefault("embedding.batch_size", embedding.DefaultBatchSize)
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.backend", "")
	v.SetDefault("embedding.project", "")
	v.SetDefault("embedding.location", "")
	v.SetDefault("embedding.query_prefix", "")
	v.SetDefault("embedding.document_prefix", "")
	v.SetDefault("embedding.cache", true)

	v.SetDefault("catalogue.items", catalogue.BuiltinPrefix+catalogue.Items)
	v.SetDefault("catalogue.categories", catalogue.BuiltinPrefix+catalogue.Categories)
	v.SetDefault("catalogue.min_score", 0.0)

	v.SetDefault("methods.item", false)
	v.SetDefault("methods.category", false)
	v.SetDefault("methods.merchant", false)
	v.SetDefault("methods.mcc", true)

	v.SetDefault("merge.policy", string(estimate.AlwaysReplace))

	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.buffer", 100)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.poll_interval", "1m")
}

// Validate rejects configurations no process can run with.
func (c Config) Validate() error {
	if !c.EnabledMethods().Any() {
		return fmt.Errorf("no estimation method enabled: %w", domain.ErrConfiguration)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w: %w", domain.ErrConfiguration, err)
	}
	if _, err := estimate.ParseMergePolicy(c.Merge.Policy); err != nil {
		return fmt.Errorf("merge.policy: %w", err)
	}

	switch strings.ToLower(c.Store.Driver) {
	case DriverSQLite:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for sqlite: %w", domain.ErrConfiguration)
		}
	case DriverBigQuery:
		if c.Store.Project == "" || c.Store.Dataset == "" {
			return fmt.Errorf("store.project and store.dataset are required for bigquery: %w", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("unsupported store driver %q: %w", c.Store.Driver, domain.ErrConfiguration)
	}

	m := c.EnabledMethods()
	if (m.Item || m.Category) && strings.TrimSpace(c.Embedding.Provider) == "" {
		return fmt.Errorf("embedding.provider is required by item and category methods: %w", domain.ErrConfiguration)
	}
	if c.Catalogue.MinScore < -1 || c.Catalogue.MinScore > 1 {
		return fmt.Errorf("catalogue.min_score %v outside [-1, 1]: %w", c.Catalogue.MinScore, domain.ErrConfiguration)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be positive: %w", domain.ErrConfiguration)
	}
	if c.Worker.PollInterval < 0 {
		return fmt.Errorf("worker.poll_interval must not be negative: %w", domain.ErrConfiguration)
	}
	return nil
}

// EnabledMethods returns the active cascade tiers.
func (c Config) EnabledMethods() domain.Methods {
	return domain.Methods{
		Item:     c.Methods.Item,
		Category: c.Methods.Category,
		Merchant: c.Methods.Merchant,
		MCC:      c.Methods.MCC,
	}
}

// EmbeddingConfig converts the embedding section for embedding.New.
func (c Config) EmbeddingConfig() embedding.Config {
	e := c.Embedding
	return embedding.Config{
		Provider:       embedding.Kind(e.Provider),
		Model:          e.Model,
		Dimension:      e.Dimension,
		BatchSize:      e.BatchSize,
		APIKey:         e.APIKey,
		BaseURL:        e.BaseURL,
		Backend:        e.Backend,
		Project:        e.Project,
		Location:       e.Location,
		QueryPrefix:    e.QueryPrefix,
		DocumentPrefix: e.DocumentPrefix,
	}
}

// LoggerOptions converts the log section for logger.NewWithOptions.
func (c Config) LoggerOptions() logger.Options {
	return logger.Options{Level: c.Log.Level, JSON: c.Log.JSON}
}

func methodNames(m domain.Methods) []string {
	enabled := m.Enabled()
	out := make([]string, len(enabled))
	for i, method := range enabled {
		out[i] = string(method)
	}
	return out
}
