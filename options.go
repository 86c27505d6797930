package entrycache

import (
	"log/slog"
	"time"

	"github.com/hupe1980/entrycache/resource"
)

type options struct {
	maxBytes         int64
	maxEntrySize     int64
	evictionMargin   int64
	clock            func() time.Time
	controller       *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
	pressureInterval time.Duration
	pressureProbe    func() (MemoryPressureLevel, error)
}

// Option configures New.
type Option func(*options)

// WithMaxBytes sets the cache budget in bytes.
//
// 0 (the default) derives the budget from physical memory: 2% of RAM,
// capped at 50 MiB, or 10 MiB when RAM cannot be read.
func WithMaxBytes(n int64) Option {
	return func(o *options) {
		o.maxBytes = n
	}
}

// WithMaxEntrySize bounds offset+length of any single stream write.
// 0 (the default) selects one eighth of the budget.
func WithMaxEntrySize(n int64) Option {
	return func(o *options) {
		o.maxEntrySize = n
	}
}

// WithEvictionMargin sets how far below the budget a trim pass goes.
// 0 (the default) selects 1 MiB.
func WithEvictionMargin(n int64) Option {
	return func(o *options) {
		o.evictionMargin = n
	}
}

// WithClock replaces time.Now for entry timestamps. Useful for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithResourceController charges every stored byte to rc.
// Several caches may share one controller to enforce a combined limit.
//
// Example:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})
//	a, _ := entrycache.New(entrycache.WithMaxBytes(48<<20), entrycache.WithResourceController(rc))
//	b, _ := entrycache.New(entrycache.WithMaxBytes(48<<20), entrycache.WithResourceController(rc))
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &entrycache.BasicMetricsCollector{}
//	c, _ := entrycache.New(entrycache.WithMetricsCollector(metrics))
//	// ... use c ...
//	stats := metrics.GetStats()
//	fmt.Printf("Hit ratio: %.2f\n", stats.HitRatio)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := entrycache.NewJSONLogger(slog.LevelInfo)
//	c, _ := entrycache.New(entrycache.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMemoryPressureWatcher polls host memory every interval and calls
// OnMemoryPressure when available memory runs low. The watcher stops on Close.
func WithMemoryPressureWatcher(interval time.Duration) Option {
	return func(o *options) {
		o.pressureInterval = interval
	}
}

// WithMemoryPressureProbe replaces the host memory probe used by the
// pressure watcher. It has no effect without WithMemoryPressureWatcher.
func WithMemoryPressureProbe(probe func() (MemoryPressureLevel, error)) Option {
	return func(o *options) {
		o.pressureProbe = probe
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
