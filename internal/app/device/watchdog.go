package device

import (
	"time"

	"github.com/dkeye/daudio/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const DefaultLatencyThreshold = 60 * time.Millisecond

// watchdog tracks the gap between successive marks of a stage. It is owned
// by one loop goroutine.
type watchdog struct {
	module    string
	dhID      string
	threshold time.Duration
	metrics   *metrics.Collector

	last map[string]time.Time
	logs rate.Sometimes
}

func newWatchdog(module, dhID string, threshold time.Duration, m *metrics.Collector) *watchdog {
	if threshold <= 0 {
		threshold = DefaultLatencyThreshold
	}
	return &watchdog{
		module:    module,
		dhID:      dhID,
		threshold: threshold,
		metrics:   m,
		last:      make(map[string]time.Time),
		logs:      rate.Sometimes{Interval: time.Second},
	}
}

// mark returns the gap since the previous mark of stage, or zero on the first.
func (w *watchdog) mark(stage string, now time.Time) time.Duration {
	prev, ok := w.last[stage]
	w.last[stage] = now
	if !ok {
		return 0
	}
	gap := now.Sub(prev)
	if gap > w.threshold {
		w.metrics.LatencyTrip(w.dhID, stage)
		w.logs.Do(func() {
			log.Warn().Str("module", w.module).Str("dh_id", w.dhID).Str("stage", stage).
				Dur("gap", gap).Dur("threshold", w.threshold).Msg("latency above threshold")
		})
	}
	return gap
}

func (w *watchdog) reset() { clear(w.last) }
