package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Richard-Sarfo/Health-OLTP-STAR-Schema/internal/query"
)

// EnvPrefix prefixes every environment variable, e.g. HEALTHSTAR_ADDR.
const EnvPrefix = "HEALTHSTAR"

type Config struct {
	Addr     string `mapstructure:"ADDR"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Source is a JSON file, Parquet directory or postgres:// URL. Empty
	// means a generated dataset.
	Source          string        `mapstructure:"SOURCE"`
	GenerateSeed    uint64        `mapstructure:"GENERATE_SEED"`
	RefreshInterval time.Duration `mapstructure:"REFRESH_INTERVAL"`
	Verify          bool          `mapstructure:"VERIFY"`

	SQLMirror  bool   `mapstructure:"SQL_MIRROR"`
	DuckDBPath string `mapstructure:"DUCKDB_PATH"`
	PGMaxConns int32  `mapstructure:"PG_MAX_CONNS"`

	AuthEnabled  bool   `mapstructure:"AUTH_ENABLED"`
	AuthDBPath   string `mapstructure:"AUTH_DB_PATH"`
	AuthPepper   string `mapstructure:"AUTH_PEPPER"`
	BootstrapKey string `mapstructure:"BOOTSTRAP_KEY"`

	QueryTimeout   time.Duration `mapstructure:"QUERY_TIMEOUT"`
	MaxBodyBytes   int64         `mapstructure:"MAX_BODY_BYTES"`
	MaxConcurrent  int           `mapstructure:"MAX_CONCURRENT_QUERIES"`
	ZeroDischarges string        `mapstructure:"ZERO_DISCHARGES"`
	PairMinCount   int64         `mapstructure:"PAIR_MIN_ENCOUNTERS"`
	PairLimit      int           `mapstructure:"PAIR_LIMIT"`
	WindowDays     int           `mapstructure:"READMISSION_WINDOW_DAYS"`
}

var keys = []string{
	"ADDR", "ENV", "LOG_LEVEL",
	"SOURCE", "GENERATE_SEED", "REFRESH_INTERVAL", "VERIFY",
	"SQL_MIRROR", "DUCKDB_PATH", "PG_MAX_CONNS",
	"AUTH_ENABLED", "AUTH_DB_PATH", "AUTH_PEPPER", "BOOTSTRAP_KEY",
	"QUERY_TIMEOUT", "MAX_BODY_BYTES", "MAX_CONCURRENT_QUERIES",
	"ZERO_DISCHARGES", "PAIR_MIN_ENCOUNTERS", "PAIR_LIMIT", "READMISSION_WINDOW_DAYS",
}

// Load reads HEALTHSTAR_* environment variables over the defaults. An
// optional .env file in the working directory is read too.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SOURCE", "")
	v.SetDefault("GENERATE_SEED", 1)
	v.SetDefault("REFRESH_INTERVAL", "0s")
	v.SetDefault("VERIFY", true)
	v.SetDefault("SQL_MIRROR", true)
	v.SetDefault("DUCKDB_PATH", "")
	v.SetDefault("PG_MAX_CONNS", 4)
	v.SetDefault("AUTH_ENABLED", false)
	v.SetDefault("AUTH_DB_PATH", "healthstar-auth.db")
	v.SetDefault("AUTH_PEPPER", "")
	v.SetDefault("BOOTSTRAP_KEY", "")
	v.SetDefault("QUERY_TIMEOUT", "5s")
	v.SetDefault("MAX_BODY_BYTES", 64<<20)
	v.SetDefault("MAX_CONCURRENT_QUERIES", 16)
	v.SetDefault("ZERO_DISCHARGES", string(query.ZeroDischargeOmit))
	v.SetDefault("PAIR_MIN_ENCOUNTERS", 2)
	v.SetDefault("PAIR_LIMIT", 20)
	v.SetDefault("READMISSION_WINDOW_DAYS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// QueryOptions returns the query tuning derived from the config.
func (c *Config) QueryOptions() query.Options {
	return query.Options{
		Pairs: query.PairOptions{MinEncounters: c.PairMinCount, Limit: c.PairLimit},
		Readmission: query.ReadmissionOptions{
			WindowDays:     c.WindowDays,
			ZeroDischarges: query.ZeroDischargePolicy(c.ZeroDischarges),
		},
	}
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ADDR must not be empty")
	}
	if !query.ZeroDischargePolicy(c.ZeroDischarges).Valid() {
		return fmt.Errorf("ZERO_DISCHARGES must be omit, zero, null or error, got %q", c.ZeroDischarges)
	}
	if c.WindowDays < 1 || c.WindowDays > query.MaxWindowDays {
		return fmt.Errorf("READMISSION_WINDOW_DAYS must be between 1 and %d, got %d", query.MaxWindowDays, c.WindowDays)
	}
	if c.PairMinCount < 1 || c.PairLimit < 1 {
		return fmt.Errorf("PAIR_MIN_ENCOUNTERS and PAIR_LIMIT must be positive")
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("REFRESH_INTERVAL must not be negative")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT must be positive")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT_QUERIES must be positive")
	}
	if c.AuthEnabled {
		if c.AuthDBPath == "" {
			return fmt.Errorf("AUTH_DB_PATH is required when AUTH_ENABLED is set")
		}
		if !c.IsDev() && c.AuthPepper == "" {
			return fmt.Errorf("AUTH_PEPPER is required outside development")
		}
	}
	return nil
}
