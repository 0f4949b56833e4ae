package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Acquire   AcquireConfig   `yaml:"acquire" mapstructure:"acquire"`
	Contacts  ContactsConfig  `yaml:"contacts" mapstructure:"contacts"`
	Datasync  DatasyncConfig  `yaml:"datasync" mapstructure:"datasync"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for the sector classifier.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// RegistryConfig configures the ReceitaWS CNPJ lookup client.
type RegistryConfig struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	MinIntervalSecs int    `yaml:"min_interval_secs" mapstructure:"min_interval_secs"`
	CooldownSecs    int    `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SearchConfig configures the web search provider used by the locator.
type SearchConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AcquireConfig configures the listing acquisition engine.
type AcquireConfig struct {
	FeedURL        string `yaml:"feed_url" mapstructure:"feed_url"`
	StaleThreshold int    `yaml:"stale_threshold" mapstructure:"stale_threshold"`
	ScrollDelta    int    `yaml:"scroll_delta" mapstructure:"scroll_delta"`
	MinDelayMillis int    `yaml:"min_delay_millis" mapstructure:"min_delay_millis"`
	MaxDelayMillis int    `yaml:"max_delay_millis" mapstructure:"max_delay_millis"`
}

// ContactsConfig configures the website contact extractor.
type ContactsConfig struct {
	PageTimeoutSecs int `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
}

// DatasyncConfig configures the bulk registry dataset sync.
type DatasyncConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig configures the scrape trigger server.
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
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("registry.base_url", "https://receitaws.com.br/v1/cnpj")
	// Free tier: 3 requests per minute.
	v.SetDefault("registry.min_interval_secs", 20)
	v.SetDefault("registry.cooldown_secs", 60)
	v.SetDefault("registry.timeout_secs", 30)
	v.SetDefault("search.base_url", "https://html.duckduckgo.com/html")
	v.SetDefault("search.timeout_secs", 15)
	v.SetDefault("acquire.feed_url", "https://www.google.com/maps/search")
	v.SetDefault("acquire.stale_threshold", 5)
	v.SetDefault("acquire.scroll_delta", 2000)
	v.SetDefault("acquire.min_delay_millis", 1000)
	v.SetDefault("acquire.max_delay_millis", 2000)
	v.SetDefault("contacts.page_timeout_secs", 15)
	v.SetDefault("datasync.base_url", "https://dadosabertos.rfb.gov.br/CNPJ/")
	v.SetDefault("datasync.data_dir", "./data/receita")

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
