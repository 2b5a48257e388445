// Package config loads the YAML run configuration for a FlowCore
// execution (worker count, recovery directory, epoch interval), the way
// the teacher's Temporal engine adapter accepts an Options struct with
// sensible zero-value defaults (`runtime/agent/engine/temporal.Options`)
// rather than requiring every field to be set.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig is the CLI's run entry point configuration (§6: "one `run`
// entry point taking a built Dataflow, worker count, and an optional
// recovery directory").
type RunConfig struct {
	// WorkerCount is the number of engine workers to run. Defaults to 1.
	WorkerCount int `yaml:"worker_count"`
	// RecoveryDir is the optional recovery directory read from the
	// config file. cmd/flowcore wires no recovery store, and no package
	// in this module reads this field.
	RecoveryDir string `yaml:"recovery_dir"`
	// EpochInterval is how often the recovery coordinator injects a
	// barrier, expressed as a Go duration string (e.g. "30s").
	EpochInterval time.Duration `yaml:"epoch_interval"`
	// ExchangeBufferSize bounds each worker-to-worker exchange channel
	// (§4.5 expansion).
	ExchangeBufferSize int `yaml:"exchange_buffer_size"`
	// PollIntervalMillis is the source re-poll interval read from the
	// config file, in milliseconds. cmd/flowcore does not pass it to the
	// engine; the engine's poll budget is engine.Options.PollRate and
	// PollBurst.
	PollIntervalMillis int `yaml:"poll_interval_millis"`
}

const (
	defaultWorkerCount        = 1
	defaultExchangeBufferSize = 64
)

// Default returns a RunConfig with every field set to its default.
func Default() RunConfig {
	return RunConfig{
		WorkerCount:        defaultWorkerCount,
		ExchangeBufferSize: defaultExchangeBufferSize,
	}
}

// Load reads a RunConfig from the YAML file at path, filling unset
// fields with their defaults.
func Load(path string) (RunConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	if cfg.ExchangeBufferSize <= 0 {
		cfg.ExchangeBufferSize = defaultExchangeBufferSize
	}
	return cfg, nil
}
