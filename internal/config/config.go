package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// SignalEmail and SignalPassword are the valuation-site credentials.
	// Both are required so the app fails fast before launching a browser.
	SignalEmail    string `envconfig:"SIGNAL_EMAIL" required:"true"`
	SignalPassword string `envconfig:"SIGNAL_PASSWORD" required:"true"`

	// SignalURL maps to SIGNAL_URL.
	SignalURL string `envconfig:"SIGNAL_URL" default:"https://app.signal.vin"`

	// SupabaseURL and SupabaseKey point at the results datastore.
	SupabaseURL string `envconfig:"SUPABASE_URL" required:"true"`
	SupabaseKey string `envconfig:"SUPABASE_KEY" required:"true"`

	// ResultsTable maps to RESULTS_TABLE.
	ResultsTable string `envconfig:"RESULTS_TABLE" default:"appraisal_results"`

	// Port maps to PORT.
	Port int `envconfig:"PORT" default:"8000"`

	// Headless maps to HEADLESS. Set to false to watch the browser work.
	Headless bool `envconfig:"HEADLESS" default:"true"`

	// RestartEvery maps to RESTART_EVERY: full browser restart cadence,
	// in VINs processed.
	RestartEvery int `envconfig:"RESTART_EVERY" default:"3"`

	// NavInterval maps to NAV_INTERVAL. We can even parse durations directly!
	NavInterval time.Duration `envconfig:"NAV_INTERVAL" default:"2s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
}

// Load processes environment variables and populates the Config struct.
func Load() (*Config, error) {
	// 1. Try to load .env file (if it exists)
	// We don't panic here because in Production (Docker/K8s),
	// there often is no .env file (vars are injected directly).
	if err := godotenv.Load(); err != nil {
		// Only log if the file actually exists but failed to load.
		// If it's missing, we assume we're in Prod.
		if _, statErr := os.Stat(".env"); statErr == nil {
			log.Printf("Warning: .env file found but could not be loaded: %v", err)
		}
	}

	// 2. Process Environment Variables (System + Loaded from .env)
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// InitLogger builds the global zap logger from the configured level and
// format and installs it via zap.ReplaceGlobals.
func InitLogger(cfg *Config) error {
	var zapCfg zap.Config
	if cfg.LogFormat == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
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
