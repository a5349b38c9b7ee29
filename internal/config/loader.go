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
//  2. file (YAML) if ONEBEST_CONFIG is set
//  3. env (prefix ONEBEST_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("ONEBEST_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: ONEBEST_ADDR, ONEBEST_WORKER_COUNT, ...
	// Map env keys like ONEBEST_WORKER_COUNT -> worker_count (flat keys).
	envProvider := env.Provider("ONEBEST_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "onebest_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case !c.MemoryStore && c.DBPath == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	case c.QueueCapacity < 1:
		return fmt.Errorf("%w: queue_capacity must be positive", ErrInvalidConfig)
	case c.TrendEpsilon < 0:
		return fmt.Errorf("%w: trend_epsilon must not be negative", ErrInvalidConfig)
	case len(c.Scopes) == 0:
		return fmt.Errorf("%w: at least one scope is required", ErrInvalidConfig)
	}
	return nil
}
