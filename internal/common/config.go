package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
)

// Config is the root configuration. Precedence, lowest to highest:
// defaults -> TOML file(s) -> environment -> CLI flags.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`
	Search    SearchConfig    `toml:"search"`
	LLM       LLMConfig       `toml:"llm"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Scraper   ScraperConfig   `toml:"scraper"`
	Chunker   ChunkerConfig   `toml:"chunker"`
	Queue     QueueConfig     `toml:"queue"`
	API       APIConfig       `toml:"api"`
	Tracing   TracingConfig   `toml:"tracing"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	URL             string `toml:"url" validate:"required"`
	MaxOpenConns    int    `toml:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int    `toml:"max_idle_conns" validate:"min=1"`
	ConnTimeoutSecs int    `toml:"conn_timeout_secs" validate:"min=1"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`
	Output []string `toml:"output"`
}

// SearchConfig drives the SERP client: pacing, pooling, retries and cache.
type SearchConfig struct {
	BaseURL                string  `toml:"base_url" validate:"required,url"`
	APIKey                 string  `toml:"api_key"`
	RatePerSecond          float64 `toml:"rate_per_second" validate:"gt=0"`
	Burst                  int     `toml:"burst" validate:"min=1"`
	MaxConcurrent          int64   `toml:"max_concurrent" validate:"min=1"`
	RequestTimeoutSecs     int     `toml:"request_timeout_secs" validate:"min=1"`
	ConnectTimeoutSecs     int     `toml:"connect_timeout_secs" validate:"min=1"`
	MaxRetries             int     `toml:"max_retries" validate:"min=0"`
	BaseDelayMs            int     `toml:"base_delay_ms" validate:"min=0"`
	MaxDelayMs             int     `toml:"max_delay_ms" validate:"min=0"`
	LimiterTimeoutSecs     int     `toml:"limiter_timeout_secs" validate:"min=1"`
	RetryLimiterTimeoutSec int     `toml:"retry_limiter_timeout_secs" validate:"min=1"`
	SemaphoreTimeoutSecs   int     `toml:"semaphore_timeout_secs" validate:"min=1"`
	RetryAfterMaxSecs      int     `toml:"retry_after_max_secs" validate:"min=1"`
	JitterMs               int     `toml:"jitter_ms" validate:"min=0"`
	NumResults             int     `toml:"num_results" validate:"min=1"`
	CacheDir               string  `toml:"cache_dir"`
	CacheTTLHours          int     `toml:"cache_ttl_hours" validate:"min=1"`
	BatchMaxSize           int     `toml:"batch_max_size" validate:"min=1,max=100"`
	BatchMaxWaitMs         int     `toml:"batch_max_wait_ms" validate:"min=1"`
}

type LLMConfig struct {
	ProvidersFile string `toml:"providers_file" validate:"required"`
}

// DiscoveryConfig tunes stage 2. The blacklist file extends the built-in
// list of domains that can never be an official company site.
type DiscoveryConfig struct {
	BlacklistFile string `toml:"blacklist_file"`
}

type ScraperConfig struct {
	MaxPages        int    `toml:"max_pages" validate:"min=1"`
	MaxDepth        int    `toml:"max_depth" validate:"min=1"`
	UserAgent       string `toml:"user_agent"`
	DelayMs         int    `toml:"delay_ms" validate:"min=0"`
	TimeoutSecs     int    `toml:"timeout_secs" validate:"min=1"`
	BrowserEnabled  bool   `toml:"browser_enabled"`
	BrowserPoolSize int    `toml:"browser_pool_size" validate:"min=1"`
}

type ChunkerConfig struct {
	MaxTokens         int `toml:"max_tokens" validate:"min=1000"`
	GroupTargetTokens int `toml:"group_target_tokens" validate:"min=1000"`
	MinContentChars   int `toml:"min_content_chars" validate:"min=1"`
}

type QueueConfig struct {
	MaxAttempts    int    `toml:"max_attempts" validate:"min=1"`
	BackoffSecs    int    `toml:"backoff_secs" validate:"min=1"`
	SleepEmptySecs int    `toml:"sleep_empty_secs" validate:"min=1"`
	LivenessCycles int    `toml:"liveness_cycles" validate:"min=1"`
	StaleGraceMins int    `toml:"stale_grace_mins" validate:"min=1"`
	SweepSchedule  string `toml:"sweep_schedule"`
}

type APIConfig struct {
	AccessToken string `toml:"access_token"`
}

// TracingConfig holds the Phoenix collector endpoint. The value is only
// logged at startup; no exporter is wired yet.
type TracingConfig struct {
	CollectorEndpoint string `toml:"collector_endpoint"`
}

// NewDefaultConfig returns the built-in defaults. Pacing and retry numbers
// mirror the Serpshot account limits the pipeline runs against.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnTimeoutSecs: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Search: SearchConfig{
			BaseURL:                "https://api.serpshot.com",
			RatePerSecond:          190,
			Burst:                  200,
			MaxConcurrent:          1000,
			RequestTimeoutSecs:     15,
			ConnectTimeoutSecs:     5,
			MaxRetries:             3,
			BaseDelayMs:            1000,
			MaxDelayMs:             10000,
			LimiterTimeoutSecs:     10,
			RetryLimiterTimeoutSec: 5,
			SemaphoreTimeoutSecs:   10,
			RetryAfterMaxSecs:      60,
			JitterMs:               2000,
			NumResults:             30,
			CacheDir:               "data/serp-cache",
			CacheTTLHours:          24,
			BatchMaxSize:           100,
			BatchMaxWaitMs:         200,
		},
		LLM: LLMConfig{
			ProvidersFile: "providers.json",
		},
		Scraper: ScraperConfig{
			MaxPages:        100,
			MaxDepth:        2,
			UserAgent:       "Mozilla/5.0 (compatible; PerfiladorBot/1.0)",
			DelayMs:         250,
			TimeoutSecs:     30,
			BrowserEnabled:  false,
			BrowserPoolSize: 2,
		},
		Chunker: ChunkerConfig{
			MaxTokens:         500000,
			GroupTargetTokens: 100000,
			MinContentChars:   100,
		},
		Queue: QueueConfig{
			MaxAttempts:    5,
			BackoffSecs:    30,
			SleepEmptySecs: 2,
			LivenessCycles: 30,
			StaleGraceMins: 15,
			SweepSchedule:  "*/5 * * * *",
		},
	}
}

// LoadFromFiles loads configuration with full precedence handling. Later
// files override earlier ones; environment variables override files.
func LoadFromFiles(logger arbor.ILogger, paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if logger != nil {
			logger.Debug().Str("path", path).Msg("Loaded configuration file")
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks the fully-resolved configuration.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides maps environment variables onto the config. Secrets are
// only ever supplied this way in deployment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("SERPSHOT_API_KEY"); v != "" {
		cfg.Search.APIKey = v
	}
	if v := os.Getenv("SERPSHOT_BASE_URL"); v != "" {
		cfg.Search.BaseURL = v
	}
	if v := os.Getenv("API_ACCESS_TOKEN"); v != "" {
		cfg.API.AccessToken = v
	}
	if v := os.Getenv("PERFILADOR_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PERFILADOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PERFILADOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PERFILADOR_PROVIDERS_FILE"); v != "" {
		cfg.LLM.ProvidersFile = v
	}
	// Accepted for parity with existing deployments; no exporter ships yet.
	if v := os.Getenv("PHOENIX_COLLECTOR_ENDPOINT"); v != "" {
		cfg.Tracing.CollectorEndpoint = v
	}
}

// ApplyFlagOverrides applies CLI flag values on top of the loaded config.
// Zero values mean "flag not set".
func ApplyFlagOverrides(cfg *Config, port int, host string) {
	if port != 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
}
