package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	StoreDriver          string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	SQLitePath           string        `mapstructure:"SQLITE_PATH"`
	MigrationsDir        string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	UploadDir            string        `mapstructure:"UPLOAD_DIR"`
	UploadMaxSize        string        `mapstructure:"UPLOAD_MAX_SIZE"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownDrainTimeout time.Duration `mapstructure:"SHUTDOWN_DRAIN_TIMEOUT"`

	AIServiceURL         string        `mapstructure:"AI_SERVICE_URL"`
	AIASRURL             string        `mapstructure:"AI_ASR_URL"`
	AIRequestTimeout     time.Duration `mapstructure:"AI_REQUEST_TIMEOUT"`
	AnalysisPollInterval time.Duration `mapstructure:"ANALYSIS_POLL_INTERVAL"`
	AnalysisMaxAttempts  int           `mapstructure:"ANALYSIS_MAX_ATTEMPTS"`
	NotePollInterval     time.Duration `mapstructure:"NOTE_POLL_INTERVAL"`
	NoteMaxAttempts      int           `mapstructure:"NOTE_MAX_ATTEMPTS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SQLITE_PATH", "MIGRATIONS_DIR", "REDIS_URL", "CORS_ORIGINS", "UPLOAD_DIR", "UPLOAD_MAX_SIZE",
	"BODY_LIMIT", "REQUEST_TIMEOUT", "SHUTDOWN_DRAIN_TIMEOUT",
	"AI_SERVICE_URL", "AI_ASR_URL", "AI_REQUEST_TIMEOUT",
	"ANALYSIS_POLL_INTERVAL", "ANALYSIS_MAX_ATTEMPTS", "NOTE_POLL_INTERVAL", "NOTE_MAX_ATTEMPTS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "3001")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "medscribe.db")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("UPLOAD_MAX_SIZE", "1G")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("SHUTDOWN_DRAIN_TIMEOUT", "30s")
	v.SetDefault("AI_SERVICE_URL", "http://localhost:8000")
	v.SetDefault("AI_REQUEST_TIMEOUT", "5m")
	v.SetDefault("ANALYSIS_POLL_INTERVAL", "10s")
	v.SetDefault("ANALYSIS_MAX_ATTEMPTS", 240)
	v.SetDefault("NOTE_POLL_INTERVAL", "5s")
	v.SetDefault("NOTE_MAX_ATTEMPTS", 120)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.AIASRURL == "" {
		cfg.AIASRURL = strings.TrimRight(cfg.AIServiceURL, "/") + "/transcribe"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is usable. DATABASE_URL is only
// required for the postgres driver; the sqlite driver needs a file path.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.StoreDriver)
	}

	if c.AIServiceURL == "" {
		return fmt.Errorf("AI_SERVICE_URL is required")
	}
	if c.AnalysisPollInterval <= 0 || c.NotePollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.AnalysisMaxAttempts <= 0 || c.NoteMaxAttempts <= 0 {
		return fmt.Errorf("poll attempt budgets must be positive")
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	return nil
}
