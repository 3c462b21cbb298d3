package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultMaintenanceInterval = time.Hour
	defaultCandidateTTL        = 30 * 24 * time.Hour
)

var (
	maintenanceInterval          atomic.Value
	candidateTTL                 atomic.Value
	maintenanceIntervalListeners = map[chan time.Duration]struct{}{}
	listenersMu                  sync.Mutex
)

func init() {
	maintenanceInterval.Store(defaultMaintenanceInterval)
	candidateTTL.Store(defaultCandidateTTL)
}

func refreshIntervals() {
	cfg := GetConfig()
	setMaintenanceInterval(calculateMaintenanceInterval(cfg))
	candidateTTL.Store(calculateCandidateTTL(cfg))
}

// CalculateBetweenTime converts a timer into a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfTimer(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfTimer(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func (t Timer) IsZero() bool {
	return t.Days == 0 && t.Hours == 0 && t.Minutes == 0 && t.Seconds == 0
}

func GetMaintenanceInterval() time.Duration {
	return maintenanceInterval.Load().(time.Duration)
}

// MaintenanceIntervalUpdates delivers the current interval immediately and
// every later change. Slow readers only see the latest value. stop
// unregisters the channel.
func MaintenanceIntervalUpdates() (updates <-chan time.Duration, stop func()) {
	ch := make(chan time.Duration, 1)
	ch <- GetMaintenanceInterval()

	listenersMu.Lock()
	maintenanceIntervalListeners[ch] = struct{}{}
	listenersMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			listenersMu.Lock()
			delete(maintenanceIntervalListeners, ch)
			listenersMu.Unlock()
		})
	}
}

func setMaintenanceInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}

	current := GetMaintenanceInterval()
	if current == interval {
		return
	}

	maintenanceInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for ch := range maintenanceIntervalListeners {
		// Replace an unread value with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- interval:
		default:
		}
	}
}

func calculateMaintenanceInterval(cfg Config) time.Duration {
	if cfg.Aggregator.MaintenanceTimer.IsZero() {
		return defaultMaintenanceInterval
	}
	return CalculateBetweenTime(cfg.Aggregator.MaintenanceTimer)
}

// GetCandidateTTL is how long a candidate may go without reports before the
// maintenance job drops it.
func GetCandidateTTL() time.Duration {
	return candidateTTL.Load().(time.Duration)
}

func calculateCandidateTTL(cfg Config) time.Duration {
	if cfg.Aggregator.CandidateTTL.IsZero() {
		return defaultCandidateTTL
	}
	return CalculateBetweenTime(cfg.Aggregator.CandidateTTL)
}
