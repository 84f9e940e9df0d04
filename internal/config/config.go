// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is constructed once at
// startup and passed by value into components; nothing reads viper directly.
type Config struct {
	Store   StoreConfig             `yaml:"store" mapstructure:"store"`
	Ingest  IngestConfig            `yaml:"ingest" mapstructure:"ingest"`
	Fetch   FetchConfig             `yaml:"fetch" mapstructure:"fetch"`
	Sources map[string]SourceConfig `yaml:"sources" mapstructure:"sources"`
	Log     LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SourceConfig holds per-provider overrides.
type SourceConfig struct {
	FeedURL string `yaml:"feed_url" mapstructure:"feed_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// IngestConfig configures normalization filters, scoring bands, and the
// winner selection caps.
type IngestConfig struct {
	// Winner selection caps.
	MerchantCap int `yaml:"merchant_cap" mapstructure:"merchant_cap"`
	CategoryCap int `yaml:"category_cap" mapstructure:"category_cap"`
	BucketCap   int `yaml:"bucket_cap" mapstructure:"bucket_cap"`
	GlobalCap   int `yaml:"global_cap" mapstructure:"global_cap"`

	// Hard filters applied during normalization.
	MinDescriptionLen int     `yaml:"min_description_len" mapstructure:"min_description_len"`
	RequireImage      bool    `yaml:"require_image" mapstructure:"require_image"`
	MinPrice          float64 `yaml:"min_price" mapstructure:"min_price"`
	MaxAgeDays        int     `yaml:"max_age_days" mapstructure:"max_age_days"`
	Currency          string  `yaml:"currency" mapstructure:"currency"`
	GeoScope          string  `yaml:"geo_scope" mapstructure:"geo_scope"`

	// Price bands and category normalization.
	PriceBandLow  float64 `yaml:"price_band_low" mapstructure:"price_band_low"`
	PriceBandHigh float64 `yaml:"price_band_high" mapstructure:"price_band_high"`
	CategoryDepth int     `yaml:"category_depth" mapstructure:"category_depth"`

	// Canonicalization and scoring behavior.
	StrictCanonical     bool `yaml:"strict_canonical" mapstructure:"strict_canonical"`
	TrustUpstreamScores bool `yaml:"trust_upstream_scores" mapstructure:"trust_upstream_scores"`

	// Persistence batching and timeouts.
	BatchSize         int `yaml:"batch_size" mapstructure:"batch_size"`
	FetchTimeoutSecs  int `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	UpsertTimeoutSecs int `yaml:"upsert_timeout_secs" mapstructure:"upsert_timeout_secs"`
	PolicyTimeoutSecs int `yaml:"policy_timeout_secs" mapstructure:"policy_timeout_secs"`
}

// FetchConfig configures the HTTP/FTP fetchers.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional) and the environment.
// Every knob has a default; a missing file or knob is never an error.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FEEDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "feedsync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("fetch.user_agent", "feedsync/1.0")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("ingest.merchant_cap", 25)
	v.SetDefault("ingest.category_cap", 40)
	v.SetDefault("ingest.bucket_cap", 3)
	v.SetDefault("ingest.global_cap", 200)
	v.SetDefault("ingest.min_description_len", 0)
	v.SetDefault("ingest.require_image", false)
	v.SetDefault("ingest.min_price", 0)
	v.SetDefault("ingest.max_age_days", 0)
	v.SetDefault("ingest.price_band_low", 25)
	v.SetDefault("ingest.price_band_high", 150)
	v.SetDefault("ingest.category_depth", 2)
	v.SetDefault("ingest.strict_canonical", true)
	v.SetDefault("ingest.trust_upstream_scores", false)
	v.SetDefault("ingest.batch_size", 250)
	v.SetDefault("ingest.fetch_timeout_secs", 120)
	v.SetDefault("ingest.upsert_timeout_secs", 30)
	v.SetDefault("ingest.policy_timeout_secs", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
