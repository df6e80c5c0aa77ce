package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nzconn/nzgo/internal/config"
)

// newBenchPool creates a ProfilePool pre-loaded with n injected fakeConn
// sessions and a large AcquireTimeout so waits don't skew results.
func newBenchPool(b *testing.B, n int) *ProfilePool {
	b.Helper()
	p := config.ProfileConfig{
		Host:     "localhost",
		Port:     15480,
		Database: "bench",
		Username: "user",
	}
	defaults := config.PoolDefaults{
		MinConnections: 0,
		MaxConnections: n,
		IdleTimeout:    5 * time.Minute,
		MaxLifetime:    30 * time.Minute,
		AcquireTimeout: 30 * time.Second,
	}
	pp := NewProfilePool("bench", p, defaults)

	for i := 0; i < n; i++ {
		pc, _ := newTestPooledConn("bench", pp)
		pp.mu.Lock()
		pp.idle = append(pp.idle, pc)
		pp.total++
		pp.mu.Unlock()
	}
	return pp
}

// BenchmarkAcquireReturn measures the throughput of a single goroutine
// repeatedly acquiring and immediately returning a connection.
// Pool size = 1 so no contention; measures pure acquire/return overhead.
func BenchmarkAcquireReturn(b *testing.B) {
	pp := newBenchPool(b, 1)
	defer pp.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pc, err := pp.Acquire(ctx)
		if err != nil {
			b.Fatalf("Acquire failed: %v", err)
		}
		pp.Return(pc)
	}
}

// BenchmarkAcquireReturnParallel measures throughput under concurrent access
// with a pool sized to allow all goroutines to acquire simultaneously.
func BenchmarkAcquireReturnParallel(b *testing.B) {
	pp := newBenchPool(b, 12)
	defer pp.Close()

	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			pc, err := pp.Acquire(ctx)
			if err != nil {
				continue
			}
			pp.Return(pc)
		}
	})
}

// BenchmarkAcquireContended measures latency when goroutines compete for
// fewer connections than goroutines (realistic production scenario).
func BenchmarkAcquireContended(b *testing.B) {
	const poolSize = 4
	pp := newBenchPool(b, poolSize)
	defer pp.Close()

	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			pc, err := pp.Acquire(ctx)
			if err != nil {
				continue
			}
			// 1µs simulated work to ensure genuine contention at poolSize=4
			time.Sleep(time.Microsecond)
			pp.Return(pc)
		}
	})
}

// BenchmarkPoolStats measures the overhead of reading pool stats
// (called every 5s by the Prometheus metrics loop in production).
func BenchmarkPoolStats(b *testing.B) {
	pp := newBenchPool(b, 4)
	defer pp.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pp.Stats()
	}
}

// BenchmarkConcurrentAcquireReturnThroughput measures aggregate ops/sec with a
// realistic worker-pool pattern: N workers each acquire → work → return.
func BenchmarkConcurrentAcquireReturnThroughput(b *testing.B) {
	const poolSize = 8
	pp := newBenchPool(b, poolSize)
	defer pp.Close()

	ctx := context.Background()
	const workers = 32
	work := make(chan struct{}, b.N)
	for i := 0; i < b.N; i++ {
		work <- struct{}{}
	}
	close(work)

	b.ResetTimer()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				pc, err := pp.Acquire(ctx)
				if err != nil {
					continue
				}
				pp.Return(pc)
			}
		}()
	}
	wg.Wait()
}
