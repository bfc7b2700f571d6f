package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/geyser/event"
)

// Stats tracks dispatch statistics using atomic operations.
type Stats struct {
	accountOps     uint64
	slotOps        uint64
	transactionOps uint64

	accountErrors     uint64
	slotErrors        uint64
	transactionErrors uint64

	// Latency tracking (microseconds)
	mu        sync.Mutex
	latencies []int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]int64, 0, 100000),
	}
}

func (s *Stats) counters(kind event.Kind) (ops, errs *uint64) {
	switch kind {
	case event.KindAccount:
		return &s.accountOps, &s.accountErrors
	case event.KindSlot:
		return &s.slotOps, &s.slotErrors
	default:
		return &s.transactionOps, &s.transactionErrors
	}
}

// RecordOp records a successful callback.
func (s *Stats) RecordOp(kind event.Kind, latency time.Duration) {
	ops, _ := s.counters(kind)
	atomic.AddUint64(ops, 1)

	s.mu.Lock()
	s.latencies = append(s.latencies, latency.Microseconds())
	s.mu.Unlock()
}

// RecordError records a failed callback.
func (s *Stats) RecordError(kind event.Kind) {
	_, errs := s.counters(kind)
	atomic.AddUint64(errs, 1)
}

func (s *Stats) TotalOps() uint64 {
	return atomic.LoadUint64(&s.accountOps) +
		atomic.LoadUint64(&s.slotOps) +
		atomic.LoadUint64(&s.transactionOps)
}

func (s *Stats) TotalErrors() uint64 {
	return atomic.LoadUint64(&s.accountErrors) +
		atomic.LoadUint64(&s.slotErrors) +
		atomic.LoadUint64(&s.transactionErrors)
}

// GetLatencyPercentiles returns p50, p90, p95, p99 in microseconds.
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

// Snapshot is a copy of current counters.
type Snapshot struct {
	AccountOps     uint64
	SlotOps        uint64
	TransactionOps uint64
	Errors         uint64
}

func (s Snapshot) Total() uint64 {
	return s.AccountOps + s.SlotOps + s.TransactionOps
}

func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		AccountOps:     atomic.LoadUint64(&s.accountOps),
		SlotOps:        atomic.LoadUint64(&s.slotOps),
		TransactionOps: atomic.LoadUint64(&s.transactionOps),
		Errors:         s.TotalErrors(),
	}
}

// PrintFinal prints final statistics.
func (s *Stats) PrintFinal(elapsed time.Duration) {
	snap := s.GetSnapshot()
	p50, p90, p95, p99 := s.GetLatencyPercentiles()

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f callbacks/sec\n", float64(snap.Total())/elapsed.Seconds())
	fmt.Println()

	fmt.Println("Callbacks:")
	fmt.Printf("  ACCOUNT:     %d (errors: %d)\n", snap.AccountOps, atomic.LoadUint64(&s.accountErrors))
	fmt.Printf("  SLOT:        %d (errors: %d)\n", snap.SlotOps, atomic.LoadUint64(&s.slotErrors))
	fmt.Printf("  TRANSACTION: %d (errors: %d)\n", snap.TransactionOps, atomic.LoadUint64(&s.transactionErrors))
	fmt.Printf("  TOTAL:       %d\n", snap.Total())
	fmt.Println()

	fmt.Println("Latency (us):")
	fmt.Printf("  p50: %d  p90: %d  p95: %d  p99: %d\n", p50, p90, p95, p99)
}
