package benchmark

import (
	"fmt"
	"runtime"
	"testing"

	"github.com/tokvault/tokvaultd/internal/storage"
)

// KeyCounts defines the key counts for benchmarking.
var KeyCounts = []int{5000, 10000, 15000, 20000, 50000, 100000, 200000, 500000}

// SmallKeyCounts for quick benchmarks.
var SmallKeyCounts = []int{1000, 5000, 10000}

// newEngine creates a storage engine with persistence disabled, ready
// for benchmarking in isolation.
func newEngine(b *testing.B) *storage.Engine {
	b.Helper()
	cfg := storage.DefaultConfig()
	e, err := storage.New(cfg)
	if err != nil {
		b.Fatalf("storage.New: %v", err)
	}
	b.Cleanup(func() { e.Close() })
	return e
}

// prefillStrings sets count string keys on e and returns their keys.
func prefillStrings(e *storage.Engine, count int) []string {
	keys := make([]string, count)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("key-%d", i)
		e.Set(key, fmt.Sprintf("value-%d", i))
		keys[i] = key
	}
	return keys
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithKeyCounts runs a benchmark function with various key counts.
func runWithKeyCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("keys_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
