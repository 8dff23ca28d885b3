package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats tracks benchmark statistics
type Stats struct {
	readOps   atomic.Uint64
	writeOps  atomic.Uint64
	deleteOps atomic.Uint64
	misses    atomic.Uint64 // GETs answered NULL

	readErrors   atomic.Uint64
	writeErrors  atomic.Uint64
	deleteErrors atomic.Uint64

	retries atomic.Uint64

	mu        sync.Mutex
	latencies []int64 // Microseconds
}

func NewStats() *Stats {
	return &Stats{latencies: make([]int64, 0, 100000)}
}

// RecordOp records a successful operation
func (s *Stats) RecordOp(opType OpType, latency time.Duration, miss bool) {
	switch opType {
	case OpRead:
		s.readOps.Add(1)
		if miss {
			s.misses.Add(1)
		}
	case OpWrite:
		s.writeOps.Add(1)
	case OpDelete:
		s.deleteOps.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, latency.Microseconds())
	s.mu.Unlock()
}

// RecordError records a failed operation
func (s *Stats) RecordError(opType OpType) {
	switch opType {
	case OpRead:
		s.readErrors.Add(1)
	case OpWrite:
		s.writeErrors.Add(1)
	case OpDelete:
		s.deleteErrors.Add(1)
	}
}

func (s *Stats) RecordRetry() {
	s.retries.Add(1)
}

func (s *Stats) TotalOps() uint64 {
	return s.readOps.Load() + s.writeOps.Load() + s.deleteOps.Load()
}

func (s *Stats) TotalErrors() uint64 {
	return s.readErrors.Load() + s.writeErrors.Load() + s.deleteErrors.Load()
}

// GetLatencyPercentiles returns p50, p90, p95, p99 in microseconds
func (s *Stats) GetLatencyPercentiles() (p50, p90, p95, p99 int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]int64, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	return sorted[n*50/100], sorted[n*90/100], sorted[n*95/100], sorted[n*99/100]
}

// Snapshot is a copy of the counters
type Snapshot struct {
	Ops     uint64
	Errors  uint64
	Retries uint64
}

func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		Ops:     s.TotalOps(),
		Errors:  s.TotalErrors(),
		Retries: s.retries.Load(),
	}
}

// PrintFinal prints final statistics
func (s *Stats) PrintFinal(elapsed time.Duration) {
	totalOps := s.TotalOps()

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f ops/sec\n", float64(totalOps)/elapsed.Seconds())
	fmt.Println()

	fmt.Println("Operations:")
	fmt.Printf("  GET:    %d (%d NULL)\n", s.readOps.Load(), s.misses.Load())
	fmt.Printf("  PUT:    %d\n", s.writeOps.Load())
	fmt.Printf("  DELETE: %d\n", s.deleteOps.Load())
	fmt.Printf("  TOTAL:  %d\n", totalOps)
	fmt.Println()

	if errs, retries := s.TotalErrors(), s.retries.Load(); errs > 0 || retries > 0 {
		fmt.Println("Errors/Retries:")
		fmt.Printf("  GET errors:    %d\n", s.readErrors.Load())
		fmt.Printf("  PUT errors:    %d\n", s.writeErrors.Load())
		fmt.Printf("  DELETE errors: %d\n", s.deleteErrors.Load())
		fmt.Printf("  Retries:       %d\n", retries)
		fmt.Println()
	}

	p50, p90, p95, p99 := s.GetLatencyPercentiles()
	fmt.Println("Latency (microseconds):")
	fmt.Printf("  P50:   %d\n", p50)
	fmt.Printf("  P90:   %d\n", p90)
	fmt.Printf("  P95:   %d\n", p95)
	fmt.Printf("  P99:   %d\n", p99)
}
