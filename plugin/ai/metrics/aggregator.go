// Package metrics aggregates outcome and latency counters of the memory and
// context operations in hourly buckets.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Operation names recorded by the services.
const (
	OpArchive  = "archive"
	OpRetrieve = "retrieve"
	OpCompress = "compress"
)

// Recorder receives one sample per operation run.
type Recorder interface {
	Record(op string, latency time.Duration, success bool)
}

// Stats is the aggregate over every retained bucket.
type Stats struct {
	Count      int64                     `json:"count"`
	Success    int64                     `json:"success"`
	LatencyP50 time.Duration             `json:"latency_p50"`
	LatencyP95 time.Duration             `json:"latency_p95"`
	Operations map[string]*OperationStat `json:"operations"`
}

// OperationStat summarizes one operation.
type OperationStat struct {
	Count       int64         `json:"count"`
	SuccessRate float32       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
}

type bucket struct {
	hour      time.Time
	op        string
	count     int64
	success   int64
	latencies []int64 // milliseconds
}

// Aggregator is an in-memory Recorder. It is safe for concurrent use.
type Aggregator struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Record implements Recorder.
func (a *Aggregator) Record(op string, latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hour := a.now().Truncate(time.Hour)
	key := hour.Format(time.RFC3339) + "|" + op
	b, ok := a.buckets[key]
	if !ok {
		b = &bucket{hour: hour, op: op, latencies: make([]int64, 0, 16)}
		a.buckets[key] = b
	}
	b.count++
	if success {
		b.success++
	}
	b.latencies = append(b.latencies, latency.Milliseconds())
}

// Prune drops buckets that started before cutoff and returns how many were dropped.
func (a *Aggregator) Prune(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := 0
	for key, b := range a.buckets {
		if b.hour.Before(cutoff.Truncate(time.Hour)) {
			delete(a.buckets, key)
			dropped++
		}
	}
	return dropped
}

// Snapshot aggregates the retained buckets.
func (a *Aggregator) Snapshot() *Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := &Stats{Operations: make(map[string]*OperationStat)}
	sums := make(map[string]int64)
	success := make(map[string]int64)
	var all []int64

	for _, b := range a.buckets {
		stats.Count += b.count
		stats.Success += b.success
		all = append(all, b.latencies...)

		op, ok := stats.Operations[b.op]
		if !ok {
			op = &OperationStat{}
			stats.Operations[b.op] = op
		}
		op.Count += b.count
		success[b.op] += b.success
		sums[b.op] += sum(b.latencies)
	}

	for name, op := range stats.Operations {
		if op.Count == 0 {
			continue
		}
		op.SuccessRate = float32(success[name]) / float32(op.Count)
		op.AvgLatency = time.Duration(sums[name]/op.Count) * time.Millisecond
	}
	stats.LatencyP50 = time.Duration(percentile(all, 50)) * time.Millisecond
	stats.LatencyP95 = time.Duration(percentile(all, 95)) * time.Millisecond
	return stats
}

func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

func percentile(values []int64, p int) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[(len(sorted)-1)*p/100]
}
