package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/annotate-cli/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy" mapstructure:"taxonomy"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Ollama    OllamaConfig    `yaml:"ollama" mapstructure:"ollama"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Align     AlignConfig     `yaml:"align" mapstructure:"align"`
	Synth     SynthConfig     `yaml:"synth" mapstructure:"synth"`
	Platform  PlatformConfig  `yaml:"platform" mapstructure:"platform"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TaxonomyConfig selects the default taxonomy. Paths are extra YAML
// taxonomy files loaded next to the built-ins.
type TaxonomyConfig struct {
	Name  string   `yaml:"name" mapstructure:"name"`
	Paths []string `yaml:"paths" mapstructure:"paths"`
}

// LLMConfig holds provider-independent generation settings.
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	Reasoning         bool    `yaml:"reasoning" mapstructure:"reasoning"`
	ThinkingBudget    int64   `yaml:"thinking_budget" mapstructure:"thinking_budget"`
	Stream            bool    `yaml:"stream" mapstructure:"stream"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	CacheTTL string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// OllamaConfig holds settings for a local Ollama server.
type OllamaConfig struct {
	Host      string `yaml:"host" mapstructure:"host"`
	KeepAlive string `yaml:"keep_alive" mapstructure:"keep_alive"`
}

// ExtractConfig configures per-document extraction.
type ExtractConfig struct {
	MaxChunkChars       int  `yaml:"max_chunk_chars" mapstructure:"max_chunk_chars"`
	ChunkTolerance      int  `yaml:"chunk_tolerance" mapstructure:"chunk_tolerance"`
	MaxEntitiesPerChunk int  `yaml:"max_entities_per_chunk" mapstructure:"max_entities_per_chunk"`
	ChunkTimeoutSecs    int  `yaml:"chunk_timeout_secs" mapstructure:"chunk_timeout_secs"`
	DocumentBudgetSecs  int  `yaml:"document_budget_secs" mapstructure:"document_budget_secs"`
	RetryCount          int  `yaml:"retry_count" mapstructure:"retry_count"`
	RetryBackoffMs      int  `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	ContinueOnError     bool `yaml:"continue_on_error" mapstructure:"continue_on_error"`
}

// ChunkTimeout returns ChunkTimeoutSecs as a duration.
func (e ExtractConfig) ChunkTimeout() time.Duration {
	return time.Duration(e.ChunkTimeoutSecs) * time.Second
}

// DocumentBudget returns DocumentBudgetSecs as a duration.
func (e ExtractConfig) DocumentBudget() time.Duration {
	return time.Duration(e.DocumentBudgetSecs) * time.Second
}

// RetryBackoff returns RetryBackoffMs as a duration.
func (e ExtractConfig) RetryBackoff() time.Duration {
	return time.Duration(e.RetryBackoffMs) * time.Millisecond
}

// AlignConfig configures mention alignment.
type AlignConfig struct {
	FoldWidth bool `yaml:"fold_width" mapstructure:"fold_width"`
}

// SynthConfig configures entity scoring.
type SynthConfig struct {
	DefaultConfidence float64 `yaml:"default_confidence" mapstructure:"default_confidence"`
	Boost             float64 `yaml:"boost" mapstructure:"boost"`
	Penalty           float64 `yaml:"penalty" mapstructure:"penalty"`
}

// PlatformConfig names the labeling-platform control the predictions
// attach to.
type PlatformConfig struct {
	FromName string `yaml:"from_name" mapstructure:"from_name"`
	ToName   string `yaml:"to_name" mapstructure:"to_name"`
	Type     string `yaml:"type" mapstructure:"type"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
	DLQMaxRetries          int `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// CircuitConfig configures the provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// defaults apply to every key the config file and environment leave unset.
// A key must be listed here for its ANNOTATE_* variable to be read.
var defaults = map[string]any{
	"log.level":                      "info",
	"log.format":                     "json",
	"taxonomy.name":                  "flood",
	"llm.provider":                   "anthropic",
	"llm.model":                      "claude-haiku-4-5-20251001",
	"llm.max_tokens":                 4096,
	"llm.temperature":                0.0,
	"llm.thinking_budget":            2048,
	"llm.stream":                     true,
	"llm.reasoning":                  false,
	"llm.requests_per_minute":        50,
	"anthropic.key":                  "",
	"anthropic.base_url":             "",
	"anthropic.cache_ttl":            "5m",
	"ollama.host":                    "http://127.0.0.1:11434",
	"ollama.keep_alive":              "5m",
	"extract.max_chunk_chars":        4000,
	"extract.chunk_tolerance":        400,
	"extract.max_entities_per_chunk": 50,
	"extract.chunk_timeout_secs":     120,
	"extract.document_budget_secs":   900,
	"extract.retry_count":            2,
	"extract.retry_backoff_ms":       2000,
	"extract.continue_on_error":      true,
	"align.fold_width":               false,
	"synth.default_confidence":       0.8,
	"synth.boost":                    0.1,
	"synth.penalty":                  0.2,
	"platform.from_name":             "label",
	"platform.to_name":               "text",
	"platform.type":                  "labels",
	"store.driver":                   "sqlite",
	"store.database_url":             "annotate.db",
	"batch.max_concurrent_documents": 4,
	"batch.dlq_max_retries":          3,
	"server.port":                    8080,
	"circuit.failure_threshold":      5,
	"circuit.reset_timeout_secs":     30,
}

// Load reads config.yaml from the working directory, if present, and the
// ANNOTATE_* environment.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path falls back
// to an optional config.yaml in the working directory; a named file must
// exist.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("ANNOTATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, eris.Wrapf(err, "config: read %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

// Rates returns the configured pricing, or the built-in rates when the
// pricing section is empty.
func (c *Config) Rates() cost.Rates {
	if len(c.Pricing.Models) == 0 {
		return cost.DefaultRates()
	}
	return c.Pricing
}

// Validate checks the keys a command needs. mode is a command name:
// extract, batch, retry, serve, runs or taxonomies.
func (c *Config) Validate(mode string) error {
	var errs []string
	needLLM, needStore := false, false

	switch mode {
	case "extract":
		needLLM = true
	case "batch":
		needLLM, needStore = true, true
		if c.Batch.MaxConcurrentDocuments < 1 || c.Batch.MaxConcurrentDocuments > 64 {
			errs = append(errs, "batch.max_concurrent_documents must be between 1 and 64")
		}
	case "retry":
		needLLM, needStore = true, true
	case "serve":
		needLLM, needStore = true, true
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "runs":
		needStore = true
	case "taxonomies":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Taxonomy.Name == "" {
		errs = append(errs, "taxonomy.name is required")
	}

	if needLLM {
		switch c.LLM.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required")
			}
		case "ollama":
			if c.Ollama.Host == "" {
				errs = append(errs, "ollama.host is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
		}
		if c.LLM.Model == "" {
			errs = append(errs, "llm.model is required")
		}
		if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
			errs = append(errs, "llm.temperature must be between 0 and 1")
		}
		if c.Extract.RetryCount < 0 {
			errs = append(errs, "extract.retry_count must be >= 0")
		}
		if c.Extract.MaxChunkChars <= 0 {
			errs = append(errs, "extract.max_chunk_chars must be > 0")
		}
		for name, v := range map[string]float64{
			"synth.default_confidence": c.Synth.DefaultConfidence,
			"synth.boost":              c.Synth.Boost,
			"synth.penalty":            c.Synth.Penalty,
		} {
			if v < 0 || v > 1 {
				errs = append(errs, name+" must be between 0 and 1")
			}
		}
	}

	if needStore {
		switch c.Store.Driver {
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
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
