package main

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyStats 单位为毫秒
type LatencyStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	StdDev float64 `json:"std_dev"`
}

// recorder 并发安全的延迟收集器
type recorder struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (r *recorder) add(d time.Duration) {
	r.mu.Lock()
	r.samples = append(r.samples, d)
	r.mu.Unlock()
}

func (r *recorder) stats() LatencyStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return calculateLatencyStats(r.samples)
}

func calculateLatencyStats(samples []time.Duration) LatencyStats {
	if len(samples) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	toMs := func(d float64) float64 { return d / float64(time.Millisecond) }

	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	avg := sum / float64(len(sorted))

	var variance float64
	for _, v := range sorted {
		diff := float64(v) - avg
		variance += diff * diff
	}
	variance /= float64(len(sorted))

	at := func(p int) float64 { return toMs(float64(sorted[len(sorted)*p/100])) }
	return LatencyStats{
		Count:  len(sorted),
		Min:    toMs(float64(sorted[0])),
		Max:    toMs(float64(sorted[len(sorted)-1])),
		Avg:    toMs(avg),
		P50:    at(50),
		P90:    at(90),
		P95:    at(95),
		P99:    at(99),
		StdDev: toMs(math.Sqrt(variance)),
	}
}
