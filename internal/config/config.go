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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Gazetteers GazetteersConfig `yaml:"gazetteers" mapstructure:"gazetteers"`
	Resolve    ResolveConfig    `yaml:"resolve" mapstructure:"resolve"`
	Evaluate   EvaluateConfig   `yaml:"evaluate" mapstructure:"evaluate"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds reasoning-model credentials and model IDs.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	ExtractModel string `yaml:"extract_model" mapstructure:"extract_model"`
	JudgeModel   string `yaml:"judge_model" mapstructure:"judge_model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExtractConfig configures toponym extraction.
type ExtractConfig struct {
	Style         string `yaml:"style" mapstructure:"style"` // zero_shot, few_shot, agent
	ExamplesFile  string `yaml:"examples_file" mapstructure:"examples_file"`
	Shots         int    `yaml:"shots" mapstructure:"shots"`
	ContextWindow int    `yaml:"context_window" mapstructure:"context_window"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxToolRounds int    `yaml:"max_tool_rounds" mapstructure:"max_tool_rounds"`
	CacheEnabled  bool   `yaml:"cache_enabled" mapstructure:"cache_enabled"`
}

// GazetteersConfig configures the geocoder backends.
type GazetteersConfig struct {
	// Priority lists enabled backends, highest priority first.
	Priority      []string        `yaml:"priority" mapstructure:"priority"`
	Strategy      string          `yaml:"strategy" mapstructure:"strategy"` // fanout or cascade
	MaxResults    int             `yaml:"max_results" mapstructure:"max_results"`
	TimeoutSecs   int             `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheEnabled  bool            `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	CacheTTLHours int             `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	Nominatim     NominatimConfig `yaml:"nominatim" mapstructure:"nominatim"`
	Photon        PhotonConfig    `yaml:"photon" mapstructure:"photon"`
	GeoNames      GeoNamesConfig  `yaml:"geonames" mapstructure:"geonames"`
	Google        GoogleConfig    `yaml:"google" mapstructure:"google"`
	PostGIS       PostGISConfig   `yaml:"postgis" mapstructure:"postgis"`
	Fixture       FixtureConfig   `yaml:"fixture" mapstructure:"fixture"`
}

// NominatimConfig configures the OpenStreetMap Nominatim backend.
type NominatimConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	Email     string  `yaml:"email" mapstructure:"email"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// PhotonConfig configures the Komoot Photon backend.
type PhotonConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// GeoNamesConfig configures the GeoNames search web service.
type GeoNamesConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Username  string  `yaml:"username" mapstructure:"username"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// GoogleConfig configures the Google Geocoding API backend.
type GoogleConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// PostGISConfig configures a local GeoNames table in PostGIS.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// FixtureConfig points at a YAML gazetteer used offline.
type FixtureConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ResolveConfig configures the resolution orchestrator.
type ResolveConfig struct {
	AcceptanceThreshold float64       `yaml:"acceptance_threshold" mapstructure:"acceptance_threshold"`
	DedupDistanceKM     float64       `yaml:"dedup_distance_km" mapstructure:"dedup_distance_km"`
	MaxQueryRounds      int           `yaml:"max_query_rounds" mapstructure:"max_query_rounds"`
	JudgeEnabled        bool          `yaml:"judge_enabled" mapstructure:"judge_enabled"`
	JudgeTimeoutSecs    int           `yaml:"judge_timeout_secs" mapstructure:"judge_timeout_secs"`
	RegionResolution    int           `yaml:"region_resolution" mapstructure:"region_resolution"`
	Weights             WeightsConfig `yaml:"weights" mapstructure:"weights"`
}

// WeightsConfig weights the disambiguation terms.
type WeightsConfig struct {
	Plausibility float64 `yaml:"plausibility" mapstructure:"plausibility"`
	Relevance    float64 `yaml:"relevance" mapstructure:"relevance"`
	Context      float64 `yaml:"context" mapstructure:"context"`
	Prominence   float64 `yaml:"prominence" mapstructure:"prominence"`
}

// EvaluateConfig configures metric computation.
type EvaluateConfig struct {
	UnresolvedPolicy string  `yaml:"unresolved_policy" mapstructure:"unresolved_policy"` // exclude or penalize
	PenaltyKM        float64 `yaml:"penalty_km" mapstructure:"penalty_km"`
	MaxErrorKM       float64 `yaml:"max_error_km" mapstructure:"max_error_km"`
	AUCBins          int     `yaml:"auc_bins" mapstructure:"auc_bins"`
}

// RetryConfig configures backend retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-backend circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures multi-document runs.
type BatchConfig struct {
	MaxConcurrentDocuments int  `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
	FlushEvery             int  `yaml:"flush_every" mapstructure:"flush_every"`
	StopOnError            bool `yaml:"stop_on_error" mapstructure:"stop_on_error"`
}

// ServerConfig configures the HTTP server.
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

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GEONEXT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "geonext.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	// Secrets get empty defaults so AutomaticEnv can bind them on Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("gazetteers.geonames.username", "")
	v.SetDefault("gazetteers.google.key", "")
	v.SetDefault("gazetteers.postgis.database_url", "")
	v.SetDefault("gazetteers.nominatim.email", "")
	v.SetDefault("gazetteers.fixture.path", "")
	v.SetDefault("extract.examples_file", "")

	v.SetDefault("anthropic.extract_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.judge_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)

	v.SetDefault("extract.style", "few_shot")
	v.SetDefault("extract.shots", 2)
	v.SetDefault("extract.context_window", 80)
	v.SetDefault("extract.timeout_secs", 60)
	v.SetDefault("extract.max_tool_rounds", 6)
	v.SetDefault("extract.cache_enabled", true)

	v.SetDefault("gazetteers.priority", []string{"nominatim"})
	v.SetDefault("gazetteers.strategy", "fanout")
	v.SetDefault("gazetteers.max_results", 10)
	v.SetDefault("gazetteers.timeout_secs", 10)
	v.SetDefault("gazetteers.cache_enabled", true)
	v.SetDefault("gazetteers.cache_ttl_hours", 24*30)
	v.SetDefault("gazetteers.nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("gazetteers.nominatim.user_agent", "geonext/1.0")
	v.SetDefault("gazetteers.nominatim.rate_limit", 1.0)
	v.SetDefault("gazetteers.photon.base_url", "https://photon.komoot.io")
	v.SetDefault("gazetteers.photon.rate_limit", 5.0)
	v.SetDefault("gazetteers.geonames.base_url", "http://api.geonames.org")
	v.SetDefault("gazetteers.geonames.rate_limit", 2.0)
	v.SetDefault("gazetteers.google.rate_limit", 25.0)
	v.SetDefault("gazetteers.postgis.table", "geonames.places")

	v.SetDefault("resolve.acceptance_threshold", 0.5)
	v.SetDefault("resolve.dedup_distance_km", 1.0)
	v.SetDefault("resolve.max_query_rounds", 3)
	v.SetDefault("resolve.judge_enabled", true)
	v.SetDefault("resolve.judge_timeout_secs", 30)
	v.SetDefault("resolve.region_resolution", 3)
	v.SetDefault("resolve.weights.plausibility", 0.4)
	v.SetDefault("resolve.weights.relevance", 0.3)
	v.SetDefault("resolve.weights.context", 0.2)
	v.SetDefault("resolve.weights.prominence", 0.1)

	v.SetDefault("evaluate.unresolved_policy", "penalize")
	v.SetDefault("evaluate.penalty_km", 20039.0)
	v.SetDefault("evaluate.max_error_km", 20039.0)
	v.SetDefault("evaluate.auc_bins", 100)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	v.SetDefault("batch.max_concurrent_documents", 4)
	v.SetDefault("batch.flush_every", 10)
	v.SetDefault("batch.stop_on_error", false)
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
