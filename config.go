package runcycle

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runcycle/runcycle/model/types"
)

// Config holds the engine tunables, resolved with the hierarchy:
// defaults < YAML < environment.
type Config struct {
	// Workers is the scheduler pool size; 1 is fully sequential.
	Workers int `yaml:"workers"`

	// Cycles is how many times the whole test set is repeated.
	Cycles int `yaml:"cycles"`

	// OutSubdir names the per-test output subdirectory.
	OutSubdir string `yaml:"outSubdir"`

	// IncludeManual also schedules tests of type manual.
	IncludeManual bool `yaml:"includeManual"`

	// PurgeOnPass deletes zero-byte artifacts from passed tests' output.
	PurgeOnPass bool `yaml:"purgeOnPass"`

	// Record enables the registered results writers.
	Record bool `yaml:"record"`

	// DefaultTimeout bounds foreground process execution when a test does
	// not set its own.
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`
}

// DefaultConfig returns the sequential single-cycle configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        1,
		Cycles:         1,
		OutSubdir:      "output",
		Record:         true,
		DefaultTimeout: 10 * time.Minute,
	}
}

// LoadConfig resolves the engine configuration from an optional YAML file
// and RUNCYCLE_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &config); err != nil {
				return config, types.NewConfigError("parse %s: %v", path, err)
			}
		}
	}
	loadEnv(&config)
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func loadEnv(config *Config) {
	setInt(&config.Workers, "RUNCYCLE_WORKERS")
	setInt(&config.Cycles, "RUNCYCLE_CYCLES")
	if v := os.Getenv("RUNCYCLE_OUTSUBDIR"); v != "" {
		config.OutSubdir = v
	}
	if v := os.Getenv("RUNCYCLE_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.DefaultTimeout = d
		}
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// Validate rejects configurations the scheduler cannot honour.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return types.NewConfigError("workers must be >= 1, got %d", c.Workers)
	}
	if max := 8 * runtime.NumCPU(); c.Workers > max {
		return types.NewConfigError("workers must be <= %d (8x available CPUs), got %d", max, c.Workers)
	}
	if c.Cycles < 1 {
		return types.NewConfigError("cycles must be >= 1, got %d", c.Cycles)
	}
	if c.OutSubdir == "" {
		return types.NewConfigError("outSubdir cannot be empty")
	}
	return nil
}
