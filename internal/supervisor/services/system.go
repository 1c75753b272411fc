package services

import (
	"context"
	"runtime"

	"github.com/okian/voyage/pkg/metrics"
)

// SampleSystemMetrics records heap and goroutine gauges. Run it from a
// TickerService.
func SampleSystemMetrics(context.Context) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	return nil
}
