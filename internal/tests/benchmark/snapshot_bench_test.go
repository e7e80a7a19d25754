package benchmark

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/tokvault/tokvaultd/internal/storage/snapshot"
)

// BenchmarkSnapshotWrite benchmarks snapshot creation at various scales.
func BenchmarkSnapshotWrite(b *testing.B) {
	runWithKeyCounts(b, SmallKeyCounts, func(b *testing.B, count int) {
		tmpDir := b.TempDir()
		path := filepath.Join(tmpDir, "snapshot.db")

		strs := make(map[string]string, count)
		for i := 0; i < count; i++ {
			strs[fmt.Sprintf("key-%d", i)] = fmt.Sprintf("value-%d", i)
		}
		lists := map[string][]string{}

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			if err := snapshot.WriteFile(path, strs, lists); err != nil {
				b.Fatalf("WriteFile failed: %v", err)
			}
		}

		b.StopTimer()
		reportMemory(b, "mem")
	})
}

// BenchmarkSnapshotRead benchmarks snapshot loading at various scales.
func BenchmarkSnapshotRead(b *testing.B) {
	runWithKeyCounts(b, SmallKeyCounts, func(b *testing.B, count int) {
		tmpDir := b.TempDir()
		path := filepath.Join(tmpDir, "snapshot.db")

		strs := make(map[string]string, count)
		for i := 0; i < count; i++ {
			strs[fmt.Sprintf("key-%d", i)] = fmt.Sprintf("value-%d", i)
		}
		lists := map[string][]string{}

		if err := snapshot.WriteFile(path, strs, lists); err != nil {
			b.Fatalf("WriteFile failed: %v", err)
		}

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			loaded, _, ok, err := snapshot.ReadFile(path)
			if err != nil {
				b.Fatalf("ReadFile failed: %v", err)
			}
			if !ok || len(loaded) != count {
				b.Fatalf("expected %d strings, got %d (ok=%v)", count, len(loaded), ok)
			}
		}
	})
}

// BenchmarkSnapshotWriteLarge benchmarks large snapshot creation.
func BenchmarkSnapshotWriteLarge(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping large snapshot benchmark in short mode")
	}

	runWithKeyCounts(b, []int{50000, 100000}, func(b *testing.B, count int) {
		tmpDir := b.TempDir()
		path := filepath.Join(tmpDir, "snapshot.db")

		strs := make(map[string]string, count)
		for i := 0; i < count; i++ {
			strs[fmt.Sprintf("key-%d", i)] = fmt.Sprintf("value-%d", i)
		}
		lists := map[string][]string{}

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			if err := snapshot.WriteFile(path, strs, lists); err != nil {
				b.Fatalf("WriteFile failed: %v", err)
			}
		}

		b.StopTimer()
		reportMemory(b, "mem")
		os.Remove(path)
	})
}
