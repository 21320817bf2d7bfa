// Command chtstress hammers cht.Map with randomized concurrent workloads and
// checks every recorded history for linearizability.
//
// It is configured through the environment:
//
//	CHT_WORKERS   concurrent goroutines (default GOMAXPROCS)
//	CHT_OPS       calls per goroutine per round (default 200)
//	CHT_KEYS      distinct keys (default 8)
//	CHT_CAPACITY  initial map capacity (default 2, so that rounds grow)
//	CHT_ROUNDS    rounds, each on a fresh map (default 100)
//	CHT_SEED      base seed (default 1)
//	CHT_VERBOSE   log every round and print map stats
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/xyproto/env/v2"

	"github.com/llxisdsh/cht"
	"github.com/llxisdsh/cht/internal/lincheck"
)

type config struct {
	workload lincheck.Workload
	capacity int
	rounds   int
	verbose  bool
}

func loadConfig() config {
	return config{
		workload: lincheck.Workload{
			Workers: env.Int("CHT_WORKERS", runtime.GOMAXPROCS(0)),
			Ops:     env.Int("CHT_OPS", 200),
			Keys:    env.Int("CHT_KEYS", 8),
			Seed:    uint64(env.Int("CHT_SEED", 1)),
		},
		capacity: env.Int("CHT_CAPACITY", 2),
		rounds:   env.Int("CHT_ROUNDS", 100),
		verbose:  env.Bool("CHT_VERBOSE"),
	}
}

func main() {
	cfg := loadConfig()
	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, cfg); err != nil {
		logger.Error("stress run failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg config) error {
	logger.Info("starting",
		"workers", cfg.workload.Workers,
		"ops", cfg.workload.Ops,
		"keys", cfg.workload.Keys,
		"capacity", cfg.capacity,
		"rounds", cfg.rounds)

	began := time.Now()
	var (
		calls int
		last  *cht.MapStats
	)
	for round := range cfg.rounds {
		m, err := cht.New[int, int](cfg.capacity)
		if err != nil {
			return err
		}
		w := cfg.workload
		w.Seed += uint64(round)
		history := lincheck.Record(m, w)
		calls += len(history)
		if err := lincheck.Check(history); err != nil {
			return fmt.Errorf("round %d (seed %d): %w", round, w.Seed, err)
		}
		last = m.Stats()
		logger.Debug("round passed",
			"round", round,
			"calls", len(history),
			"capacity", last.Capacity,
			"growths", last.TotalGrowths)
	}

	logger.Info("all rounds linearizable",
		"rounds", cfg.rounds,
		"calls", calls,
		"elapsed", time.Since(began))
	if cfg.verbose && last != nil {
		fmt.Fprint(os.Stderr, last.ToString())
	}
	return nil
}
