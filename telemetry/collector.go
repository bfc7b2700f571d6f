package telemetry

import (
	"sync"
	"time"
)

// SinkStats are transport counters accumulated since the previous sample
type SinkStats struct {
	Messages int64
	Bytes    int64
	Errors   int64
}

// StatsProvider is implemented by sinks that can report transport stats.
// SinkStats must return deltas since the previous call.
type StatsProvider interface {
	SinkStats() SinkStats
}

// MetricsCollector periodically samples sink stats into counters
type MetricsCollector struct {
	providers map[string]StatsProvider
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewMetricsCollector creates a collector over providers keyed by environment
func NewMetricsCollector(providers map[string]StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		providers: providers,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop takes a final sample and stops the collector
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() {
		close(mc.stopCh)
	})
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.Collect()
		case <-mc.stopCh:
			mc.Collect()
			return
		}
	}
}

// Collect samples every provider once
func (mc *MetricsCollector) Collect() {
	for env, provider := range mc.providers {
		if provider == nil {
			continue
		}

		stats := provider.SinkStats()
		if stats.Messages > 0 {
			SinkMessagesTotal.With(env).Add(float64(stats.Messages))
		}
		if stats.Bytes > 0 {
			SinkBytesTotal.With(env).Add(float64(stats.Bytes))
		}
		if stats.Errors > 0 {
			SinkErrorsTotal.With(env).Add(float64(stats.Errors))
		}
	}
}
