package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if TEMPO_CONFIG is set
//  3. env (prefix TEMPO_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("TEMPO_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: TEMPO_ADDR, TEMPO_QUEUE_SIZE, ...
	// Keys map to the koanf tags with underscores preserved.
	envProvider := env.Provider("TEMPO_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "tempo_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations the service cannot start with.
func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.CorrelationWindowMS <= 0:
		return fmt.Errorf("%w: correlation_window_ms must be positive", ErrInvalidConfig)
	case c.LookupRPM <= 0:
		return fmt.Errorf("%w: lookup_rpm must be positive", ErrInvalidConfig)
	case c.CascadeBatchSize <= 0:
		return fmt.Errorf("%w: cascade_batch_size must be positive", ErrInvalidConfig)
	}
	return nil
}
