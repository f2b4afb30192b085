package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Store struct {
		DSN string `env:"STORE_DSN" envDefault:"file:data/taiga.db?cache=shared&_fk=1"`
	}
	Fit struct {
		Method          string  `env:"FIT_METHOD" envDefault:"L-BFGS-B"`
		MaxIterations   int     `env:"FIT_MAX_ITERATIONS" envDefault:"100"`
		LearningRate    float64 `env:"FIT_LEARNING_RATE" envDefault:"0.05"`
		PrecisionBudget int     `env:"FIT_PRECISION_BUDGET" envDefault:"10"`
		TrackIterations bool    `env:"FIT_TRACK_ITERATIONS" envDefault:"true"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	// Ensure the data directory exists for the default file-backed store
	if cfg.Store.DSN == "file:data/taiga.db?cache=shared&_fk=1" {
		if err := os.MkdirAll("data", 0755); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
