package repository

import (
	"fmt"
	"testing"
)

func seededIndex(n int) *TrendingIndex {
	idx := NewTrendingIndex(100)
	scores := make(map[string]float64, n)
	for i := 0; i < n; i++ {
		scores[fmt.Sprintf("dest-%06d", i)] = float64(i % 997)
	}
	idx.SetAll(scores)
	return idx
}

func BenchmarkTrendingIndex_Set(b *testing.B) {
	idx := seededIndex(10_000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Set(fmt.Sprintf("dest-%06d", i%10_000), float64(i%1000))
	}
}

func BenchmarkTrendingIndex_TopN(b *testing.B) {
	idx := seededIndex(10_000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.TopN(10)
	}
}

func BenchmarkTrendingIndex_Rank(b *testing.B) {
	idx := seededIndex(10_000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Rank(fmt.Sprintf("dest-%06d", i%10_000))
	}
}

func BenchmarkTrendingIndex_ParallelReads(b *testing.B) {
	idx := seededIndex(10_000)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%10 == 0 {
				idx.Set(fmt.Sprintf("dest-%06d", i%10_000), float64(i%1000))
			} else {
				_, _ = idx.TopN(25)
			}
			i++
		}
	})
}
