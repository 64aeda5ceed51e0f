// Package config loads the engine's runtime configuration from the
// process environment, the way the rest of this project's ecosystem does
// it: struct tags parsed by caarlos0/env, validated by go-playground's
// validator before anything is allowed to construct a Server or run the
// CGI driver.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Server carries the FastCGI Server Core's configuration knobs, sourced
// from FCGI_* environment variables. Zero values for the numeric fields
// are replaced with fastcgi.DefaultConfig's defaults by the caller.
type Server struct {
	Network  string `env:"FCGI_NETWORK" envDefault:"tcp" validate:"oneof=tcp tcp4 tcp6 unix"`
	Address  string `env:"FCGI_ADDRESS" envDefault:"127.0.0.1:9000" validate:"required"`
	MaxConns int    `env:"FCGI_MAX_CONNS" envDefault:"100" validate:"gt=0"`
	MaxReqs  int    `env:"FCGI_MAX_REQS" envDefault:"100" validate:"gt=0"`

	ReadTimeoutSeconds  int `env:"FCGI_READ_TIMEOUT_SECONDS" envDefault:"0" validate:"gte=0"`
	WriteTimeoutSeconds int `env:"FCGI_WRITE_TIMEOUT_SECONDS" envDefault:"0" validate:"gte=0"`
}

// Logging carries the logger construction knobs, sourced from LOG_*
// environment variables.
type Logging struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Format string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`

	// FilePath, when non-empty, routes logs through a rotating file sink
	// (see package logging) instead of stderr.
	FilePath   string `env:"LOG_FILE_PATH"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100" validate:"gt=0"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28" validate:"gte=0"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"7" validate:"gte=0"`
}

// Config is the top-level environment-sourced configuration for the
// fcgiserved binary.
type Config struct {
	Server  Server
	Logging Logging
}

// Load parses the process environment into a Config and validates it,
// failing closed rather than starting a listener with a bad value.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}
