// Command flowcore runs a built Dataflow to completion against a worker
// pool (§6 "one `run` entry point taking a built Dataflow, worker count,
// and an optional recovery directory").
//
// This binary wires the bundled word-count dataflow as a runnable
// reference; embedding programs construct their own flow.Builder graph
// and call engine.Run directly rather than going through this command.
//
// # Configuration
//
// Environment variables:
//
//	FLOWCORE_CONFIG          - path to a YAML run config (optional)
//	FLOWCORE_WORKER_COUNT    - overrides worker_count from the config
//	FLOWCORE_EPOCH_INTERVAL  - overrides epoch_interval from the config (e.g. "30s")
//
// # Example
//
//	FLOWCORE_WORKER_COUNT=4 go run ./cmd/flowcore
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flowcore-dev/flowcore/config"
	"github.com/flowcore-dev/flowcore/engine"
	"github.com/flowcore-dev/flowcore/flow"
	"github.com/flowcore-dev/flowcore/plan"
	sinktesting "github.com/flowcore-dev/flowcore/sink/testing"
	sourcetesting "github.com/flowcore-dev/flowcore/source/testing"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.WorkerCount = envIntOr("FLOWCORE_WORKER_COUNT", cfg.WorkerCount)
	cfg.EpochInterval = envDurationOr("FLOWCORE_EPOCH_INTERVAL", cfg.EpochInterval)

	b, err := flow.New("wordcount")
	if err != nil {
		return fmt.Errorf("new builder: %w", err)
	}
	sink := sinktesting.New()
	if err := buildWordCount(b, sink); err != nil {
		return fmt.Errorf("build dataflow: %w", err)
	}

	p, err := plan.Build(b.Dataflow())
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	log.Printf("running wordcount with %d worker(s), exchange buffer %d", cfg.WorkerCount, cfg.ExchangeBufferSize)
	opts := engine.Options{
		WorkerCount:        cfg.WorkerCount,
		ExchangeBufferSize: cfg.ExchangeBufferSize,
	}
	if err := engine.Run(ctx, p, opts); err != nil {
		return fmt.Errorf("run engine: %w", err)
	}

	log.Printf("wrote %d item(s) to sink", len(sink.Items()))
	return nil
}

// buildWordCount wires the bundled reference dataflow: a fixed in-memory
// line source, split on whitespace, lowercased, and collected by an
// in-memory sink. It stands in for whatever Dataflow an embedding program
// would construct with flow.Builder.
func buildWordCount(b *flow.Builder, sink *sinktesting.Sink) error {
	lines := sourcetesting.New([]any{
		"the quick brown fox",
		"the lazy dog",
		"the fox and the dog",
	})

	in, err := b.Input("lines", lines)
	if err != nil {
		return err
	}
	words, err := b.FlatMap("split", in, func(item any) []any {
		line, _ := item.(string)
		fields := strings.Fields(line)
		out := make([]any, len(fields))
		for i, f := range fields {
			out[i] = strings.ToLower(f)
		}
		return out
	})
	if err != nil {
		return err
	}
	return b.Output("collect", words, sink)
}

// loadConfig loads FLOWCORE_CONFIG if set, otherwise returns the default
// run configuration (worker_count 1, exchange_buffer_size 64).
func loadConfig() (config.RunConfig, error) {
	path := os.Getenv("FLOWCORE_CONFIG")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
