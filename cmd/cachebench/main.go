// cachebench drives a synthetic workload against an in-memory entry cache
// and prints hit ratio, eviction and throughput figures.
//
// Usage:
//
//	cachebench --max-bytes 16777216 --entries 5000 --ops 200000 --workers 4
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/entrycache"
	"github.com/hupe1980/entrycache/testutil"
)

type config struct {
	maxBytes    int64
	entries     int
	valueSize   int
	sparseRatio float64
	doomRatio   float64
	ops         int
	workers     int
	seed        int64
	skew        float64
	logLevel    string
	jsonLogs    bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var cfg config

	flagSet := pflag.NewFlagSet("cachebench", pflag.ContinueOnError)
	flagSet.Int64Var(&cfg.maxBytes, "max-bytes", 0, "cache budget in bytes (0 derives it from physical memory)")
	flagSet.IntVar(&cfg.entries, "entries", 2000, "number of distinct keys")
	flagSet.IntVar(&cfg.valueSize, "value-size", 16*1024, "maximum payload size per write")
	flagSet.Float64Var(&cfg.sparseRatio, "sparse-ratio", 0.1, "fraction of keys written through the sparse API")
	flagSet.Float64Var(&cfg.doomRatio, "doom-ratio", 0.01, "fraction of operations that doom the entry")
	flagSet.IntVar(&cfg.ops, "ops", 100000, "operations per worker")
	flagSet.IntVarP(&cfg.workers, "workers", "w", 4, "concurrent workers")
	flagSet.Int64Var(&cfg.seed, "seed", 1, "random seed")
	flagSet.Float64Var(&cfg.skew, "skew", 1.1, "Zipf skew of key popularity")
	flagSet.StringVar(&cfg.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flagSet.BoolVar(&cfg.jsonLogs, "json", false, "emit JSON logs")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if cfg.entries <= 0 || cfg.ops <= 0 || cfg.workers <= 0 || cfg.valueSize <= 0 {
		return fmt.Errorf("entries, ops, workers and value-size must be positive")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", cfg.logLevel, err)
	}
	logger := entrycache.NewTextLogger(level)
	if cfg.jsonLogs {
		logger = entrycache.NewJSONLogger(level)
	}

	metrics := &entrycache.BasicMetricsCollector{}
	cache, err := entrycache.New(
		entrycache.WithMaxBytes(cfg.maxBytes),
		entrycache.WithLogger(logger),
		entrycache.WithMetricsCollector(metrics),
		entrycache.WithMemoryPressureWatcher(time.Second),
	)
	if err != nil {
		return err
	}
	defer cache.Close()

	rng := testutil.NewRNG(cfg.seed)
	keys := rng.Keys(cfg.entries, 12)
	sparse := make([]bool, len(keys))
	for i := range sparse {
		sparse[i] = rng.Float64() < cfg.sparseRatio
	}

	logger.Info("starting workload",
		"max_bytes", cache.MaxSize(),
		"entries", cfg.entries,
		"workers", cfg.workers,
		"ops", cfg.ops,
	)

	start := time.Now()
	var g errgroup.Group
	for w := range cfg.workers {
		g.Go(func() error {
			return worker(cache, cfg, keys, sparse, testutil.NewRNG(cfg.seed+int64(w)+1))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	report(cache, metrics, cfg, elapsed)
	return nil
}

func worker(cache *entrycache.Cache, cfg config, keys []string, sparse []bool, rng *testutil.RNG) error {
	picks := rng.ZipfSequence(cfg.ops, len(keys), cfg.skew)
	buf := make([]byte, cfg.valueSize)

	for _, idx := range picks {
		key := keys[idx]
		e, err := cache.OpenEntry(key)
		if errors.Is(err, entrycache.ErrNotFound) {
			e, _, err = cache.OpenOrCreateEntry(key)
			if err != nil {
				return err
			}
			err = fill(e, sparse[idx], cfg.valueSize, rng)
		} else if err == nil {
			err = use(e, sparse[idx], buf, rng)
		}
		if err != nil {
			if e != nil {
				_ = e.Close()
			}
			return fmt.Errorf("key %s: %w", key, err)
		}

		if rng.Float64() < cfg.doomRatio {
			e.Doom()
		}
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}

// fill stores a fresh payload. Budget refusals and oversized payloads are
// part of the workload, not failures.
func fill(e *entrycache.Entry, sparse bool, valueSize int, rng *testutil.RNG) error {
	payload := rng.Bytes(1 + rng.Intn(valueSize))

	var err error
	if sparse {
		offset := rng.Int63n(64) * entrycache.SparseChunkSize
		_, err = e.WriteSparse(offset, payload)
	} else {
		if _, err = e.Write(0, 0, payload[:min(len(payload), 256)], true); err == nil {
			_, err = e.Write(1, 0, payload, true)
		}
	}
	if errors.Is(err, entrycache.ErrSizeLimitExceeded) {
		return nil
	}
	return err
}

func use(e *entrycache.Entry, sparse bool, buf []byte, rng *testutil.RNG) error {
	if !sparse {
		_, err := e.Read(1, int64(rng.Intn(len(buf))), buf)
		return err
	}

	start, n, err := e.GetAvailableRange(0, 64*entrycache.SparseChunkSize)
	if err != nil || n == 0 {
		return err
	}
	_, err = e.ReadSparse(start, buf[:min(n, len(buf))])
	return err
}

func report(cache *entrycache.Cache, metrics *entrycache.BasicMetricsCollector, cfg config, elapsed time.Duration) {
	s := metrics.GetStats()
	cs := cache.Stats()
	total := cfg.ops * cfg.workers

	fmt.Printf("operations:   %d in %s (%.0f ops/s)\n", total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	fmt.Printf("hit ratio:    %.3f (%d hits, %d misses)\n", s.HitRatio, s.OpenHits, s.OpenMisses)
	fmt.Printf("evictions:    %d (%d sparse chunks)\n", s.Evictions, s.ChildEvictions)
	fmt.Printf("bytes:        %d written, %d read\n", s.WriteBytes, s.ReadBytes)
	fmt.Printf("errors:       %d write, %d read\n", s.WriteErrors, s.ReadErrors)
	fmt.Printf("cache:        %d entries, %d / %d bytes\n", cs.Entries, cs.CurrentSize, cs.MaxSize)
}
