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
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Bulk      BulkConfig      `yaml:"bulk" mapstructure:"bulk"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the job/artifact registry backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory, sqlite, postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SearchConfig holds the web search capability settings. An empty key
// disables the search path and discovery goes straight to AI-only resolution.
type SearchConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// CrawlConfig configures per-mode crawl budgets and politeness.
type CrawlConfig struct {
	RealtimeMaxPages    int     `yaml:"realtime_max_pages" mapstructure:"realtime_max_pages"`
	DeepMaxPages        int     `yaml:"deep_max_pages" mapstructure:"deep_max_pages"`
	RealtimeTimeoutSecs int     `yaml:"realtime_timeout_secs" mapstructure:"realtime_timeout_secs"`
	DeepTimeoutSecs     int     `yaml:"deep_timeout_secs" mapstructure:"deep_timeout_secs"`
	FetchTimeoutSecs    int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	RequestsPerSecond   float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// DiscoveryConfig configures company name resolution.
type DiscoveryConfig struct {
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxCandidates int `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// ExtractConfig configures the AI extraction stage.
type ExtractConfig struct {
	TimeoutSecs     int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PageCharBudget  int `yaml:"page_char_budget" mapstructure:"page_char_budget"`
	TotalCharBudget int `yaml:"total_char_budget" mapstructure:"total_char_budget"`
}

// BulkConfig configures batch processing.
type BulkConfig struct {
	MaxConcurrentRows int `yaml:"max_concurrent_rows" mapstructure:"max_concurrent_rows"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("crawl.realtime_max_pages", 5)
	v.SetDefault("crawl.deep_max_pages", 25)
	v.SetDefault("crawl.realtime_timeout_secs", 20)
	v.SetDefault("crawl.deep_timeout_secs", 90)
	v.SetDefault("crawl.fetch_timeout_secs", 15)
	v.SetDefault("crawl.requests_per_second", 4.0)
	v.SetDefault("discovery.timeout_secs", 30)
	v.SetDefault("discovery.max_candidates", 25)
	v.SetDefault("extract.timeout_secs", 60)
	v.SetDefault("extract.page_char_budget", 8000)
	v.SetDefault("extract.total_char_budget", 16000)
	v.SetDefault("bulk.max_concurrent_rows", 5)
	v.SetDefault("search.base_url", "https://s.jina.ai")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)

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
