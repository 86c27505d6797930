package pressure

import (
	"context"
	"time"

	"github.com/hupe1980/entrycache/internal/sysmem"
	"golang.org/x/time/rate"
)

// Level is the severity of memory pressure.
type Level int

const (
	// None means no action is needed.
	None Level = iota
	// Moderate asks caches to shed about half of their budget.
	Moderate
	// Critical asks caches to shed almost everything they can.
	Critical
)

func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case Moderate:
		return "moderate"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Probe reports the current pressure level.
type Probe func() (Level, error)

// Thresholds for SystemProbe, as a fraction of total memory still available.
const (
	ModerateThreshold = 0.15
	CriticalThreshold = 0.05
)

// SystemProbe classifies host memory read through sysmem.
func SystemProbe() Probe {
	return func() (Level, error) {
		st, err := sysmem.Read()
		if err != nil {
			return None, err
		}
		return Classify(st), nil
	}
}

// Classify maps host memory stats to a Level.
func Classify(st sysmem.Stats) Level {
	if st.Total <= 0 {
		return None
	}
	ratio := float64(st.Available) / float64(st.Total)
	switch {
	case ratio < CriticalThreshold:
		return Critical
	case ratio < ModerateThreshold:
		return Moderate
	default:
		return None
	}
}

// Config configures a Watcher.
type Config struct {
	// Interval between probes. Defaults to 5s.
	Interval time.Duration
	// MinGap is the minimum time between two callbacks of the same or lower
	// level. Critical always bypasses a pending Moderate gap. Defaults to 30s.
	MinGap time.Duration
}

// Watcher polls a Probe and invokes a callback while memory is under pressure.
type Watcher struct {
	probe      Probe
	onPressure func(Level)
	interval   time.Duration
	limiter    *rate.Limiter
	critical   *rate.Limiter
}

// NewWatcher creates a Watcher. onPressure runs on the watcher goroutine.
func NewWatcher(cfg Config, probe Probe, onPressure func(Level)) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = 30 * time.Second
	}
	return &Watcher{
		probe:      probe,
		onPressure: onPressure,
		interval:   cfg.Interval,
		limiter:    rate.NewLimiter(rate.Every(cfg.MinGap), 1),
		critical:   rate.NewLimiter(rate.Every(cfg.MinGap), 1),
	}
}

// Run polls until ctx is canceled. Probe errors are skipped; the next tick retries.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check runs one probe and reports whether the callback fired.
func (w *Watcher) Check() bool {
	level, err := w.probe()
	if err != nil || level == None {
		return false
	}

	lim := w.limiter
	if level == Critical {
		lim = w.critical
	}
	if !lim.Allow() {
		return false
	}
	w.onPressure(level)
	return true
}
