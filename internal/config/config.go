package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Triage    TriageConfig    `yaml:"triage" mapstructure:"triage"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings and the model ladder.
type AnthropicConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	ContextualModel string  `yaml:"contextual_model" mapstructure:"contextual_model"`
	CriticalModel   string  `yaml:"critical_model" mapstructure:"critical_model"`
	FallbackModel   string  `yaml:"fallback_model" mapstructure:"fallback_model"`
	RatePerSecond   float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst       int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// PipelineConfig configures the three-stage funnel. Tier sizes are fixed
// absolute counts; they do not scale with the ingested population.
type PipelineConfig struct {
	PriorityTierSize  int           `yaml:"priority_tier_size" mapstructure:"priority_tier_size"`
	CriticalTierSize  int           `yaml:"critical_tier_size" mapstructure:"critical_tier_size"`
	BatchSize         int           `yaml:"batch_size" mapstructure:"batch_size"`
	ContextualTimeout time.Duration `yaml:"contextual_timeout" mapstructure:"contextual_timeout"`
	CriticalTimeout   time.Duration `yaml:"critical_timeout" mapstructure:"critical_timeout"`
	FallbackTimeout   time.Duration `yaml:"fallback_timeout" mapstructure:"fallback_timeout"`
	ProgressInterval  time.Duration `yaml:"progress_interval" mapstructure:"progress_interval"`
	SnapshotEvery     int           `yaml:"snapshot_every" mapstructure:"snapshot_every"`
}

// TriageConfig configures the heuristic triage stage.
type TriageConfig struct {
	KeywordFile string   `yaml:"keyword_file" mapstructure:"keyword_file"`
	VIPDomains  []string `yaml:"vip_domains" mapstructure:"vip_domains"`
}

// ServerConfig configures the read-only status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAILTRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mailtriage.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.contextual_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.critical_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fallback_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.rate_per_second", 5.0)
	v.SetDefault("anthropic.rate_burst", 5)
	v.SetDefault("pipeline.priority_tier_size", 5000)
	v.SetDefault("pipeline.critical_tier_size", 500)
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.contextual_timeout", 45*time.Second)
	v.SetDefault("pipeline.critical_timeout", 60*time.Second)
	v.SetDefault("pipeline.fallback_timeout", 90*time.Second)
	v.SetDefault("pipeline.progress_interval", 2*time.Second)
	v.SetDefault("pipeline.snapshot_every", 25)

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

// Validate checks the settings a given command mode depends on. Modes:
// "run" (full pipeline), "serve" (status server), "import" (mailbox only).
func (c *Config) Validate(mode string) error {
	var problems []string

	requireStore := func() {
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}

	switch mode {
	case "run":
		requireStore()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Pipeline.PriorityTierSize <= 0 {
			problems = append(problems, "pipeline.priority_tier_size must be > 0")
		}
		if c.Pipeline.CriticalTierSize <= 0 {
			problems = append(problems, "pipeline.critical_tier_size must be > 0")
		}
		if c.Pipeline.CriticalTierSize > c.Pipeline.PriorityTierSize {
			problems = append(problems, "pipeline.critical_tier_size must not exceed priority_tier_size")
		}
		if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > 100 {
			problems = append(problems, "pipeline.batch_size must be between 1 and 100")
		}
		if c.Pipeline.SnapshotEvery <= 0 {
			problems = append(problems, "pipeline.snapshot_every must be > 0")
		}
	case "serve":
		requireStore()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "import":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
