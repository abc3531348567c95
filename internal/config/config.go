package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the ledger service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Completion    CompletionConfig    `mapstructure:"completion"`
	Impact        ImpactConfig        `mapstructure:"impact"`
	Milestones    MilestoneConfig     `mapstructure:"milestones"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Reporting     ReportingConfig     `mapstructure:"reporting"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	ModelCatalog  []ModelCatalogEntry `mapstructure:"model_catalog"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	ReadHeaderTimeout     time.Duration `mapstructure:"read_header_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type CompletionConfig struct {
	OpenAIKey      string        `mapstructure:"openai_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// ImpactConfig holds the donation/impact conversion constants. Recorded
// events store the values computed at write time; changing these never
// rewrites historical impact figures.
type ImpactConfig struct {
	DonationRate float64 `mapstructure:"donation_rate"`
	TreesPerUSD  float64 `mapstructure:"trees_per_usd"`
}

type MilestoneConfig struct {
	Version    string `mapstructure:"version"`
	Thresholds []int  `mapstructure:"thresholds"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	TokensPerMinute   int `mapstructure:"tokens_per_minute"`
	ParallelRequests  int `mapstructure:"parallel_requests"`
}

type LedgerConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
}

type ReportingConfig struct {
	Timezone string `mapstructure:"timezone"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// ModelCatalogEntry declares a supported model with its per-1K-token pricing.
type ModelCatalogEntry struct {
	Alias         string  `mapstructure:"alias"`
	ProviderModel string  `mapstructure:"provider_model"`
	Encoding      string  `mapstructure:"encoding"`
	PriceInput    float64 `mapstructure:"price_input"`
	PriceOutput   float64 `mapstructure:"price_output"`
	Currency      string  `mapstructure:"currency"`
	MaxOutput     int32   `mapstructure:"max_output_tokens"`
	Enabled       *bool   `mapstructure:"enabled"`
}

func (e ModelCatalogEntry) IsEnabled() bool {
	if e.Enabled == nil {
		return true
	}
	return *e.Enabled
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("ROOTED_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("rooted")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("ROOTED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and constants are sane.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "ROOTED_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "ROOTED_REDIS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Impact.DonationRate <= 0 || c.Impact.DonationRate > 1 {
		return fmt.Errorf("impact.donation_rate must be in (0, 1]")
	}
	if c.Impact.TreesPerUSD <= 0 {
		return fmt.Errorf("impact.trees_per_usd must be > 0")
	}

	if len(c.Milestones.Thresholds) == 0 {
		return fmt.Errorf("milestones.thresholds must not be empty")
	}
	if !sort.IntsAreSorted(c.Milestones.Thresholds) {
		return fmt.Errorf("milestones.thresholds must be ascending")
	}
	for _, t := range c.Milestones.Thresholds {
		if t <= 0 {
			return fmt.Errorf("milestones.thresholds must be positive")
		}
	}
	if strings.TrimSpace(c.Milestones.Version) == "" {
		return fmt.Errorf("milestones.version must be provided")
	}

	if c.Database.RunMigrations && c.Database.MigrationsDir == "" {
		return fmt.Errorf("database.migrations_dir must be provided when run_migrations is true")
	}

	if c.Completion.Timeout <= 0 {
		c.Completion.Timeout = 45 * time.Second
	}
	if c.Ledger.SweepInterval <= 0 {
		c.Ledger.SweepInterval = 5 * time.Minute
	}
	if c.Ledger.SweepBatchSize <= 0 {
		c.Ledger.SweepBatchSize = 200
	}

	reportingTZ := strings.TrimSpace(c.Reporting.Timezone)
	if reportingTZ == "" {
		reportingTZ = "UTC"
	}
	if _, err := time.LoadLocation(reportingTZ); err != nil {
		return fmt.Errorf("reporting.timezone %q: %w", reportingTZ, err)
	}
	c.Reporting.Timezone = reportingTZ

	seen := make(map[string]struct{}, len(c.ModelCatalog))
	for i := range c.ModelCatalog {
		entry := &c.ModelCatalog[i]
		entry.Alias = strings.TrimSpace(entry.Alias)
		if entry.Alias == "" {
			return fmt.Errorf("model_catalog[%d].alias must be provided", i)
		}
		if _, dup := seen[entry.Alias]; dup {
			return fmt.Errorf("model_catalog alias %q declared twice", entry.Alias)
		}
		seen[entry.Alias] = struct{}{}
		if entry.PriceInput < 0 || entry.PriceOutput < 0 {
			return fmt.Errorf("model_catalog %q: prices must be non-negative", entry.Alias)
		}
		if entry.ProviderModel == "" {
			entry.ProviderModel = entry.Alias
		}
		if entry.Currency == "" {
			entry.Currency = "USD"
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 4)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("completion.timeout", "45s")
	v.SetDefault("completion.idempotency_ttl", "30m")

	v.SetDefault("impact.donation_rate", 0.4)
	v.SetDefault("impact.trees_per_usd", 2.5)

	v.SetDefault("milestones.version", "2024-06")
	v.SetDefault("milestones.thresholds", []int{1, 5, 25, 100, 500, 1000})

	v.SetDefault("rate_limits.requests_per_minute", 60)
	v.SetDefault("rate_limits.tokens_per_minute", 90000)
	v.SetDefault("rate_limits.parallel_requests", 4)

	v.SetDefault("ledger.sweep_interval", "5m")
	v.SetDefault("ledger.sweep_batch_size", 200)

	v.SetDefault("reporting.timezone", "UTC")

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
