package orchestration

import (
	"sync"
	"time"
)

const (
	healthWindowSize        = 20
	healthMaxErrorRate      = 0.25
	healthMaxMedianLatency  = 2 * time.Second
	healthMinSamplesToJudge = 3
)

type healthSample struct {
	latency time.Duration
	failed  bool
}

// ChannelHealth keeps a sliding window of latency and error samples for a
// provider channel. A channel with too few samples is presumed healthy.
type ChannelHealth struct {
	mu      sync.Mutex
	samples []healthSample
	next    int
	filled  bool
}

// NewChannelHealth builds an empty health tracker.
func NewChannelHealth() *ChannelHealth {
	return &ChannelHealth{samples: make([]healthSample, healthWindowSize)}
}

// Record adds one observation to the window.
func (h *ChannelHealth) Record(latency time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.next] = healthSample{latency: latency, failed: err != nil}
	h.next++
	if h.next == len(h.samples) {
		h.next = 0
		h.filled = true
	}
}

// Healthy reports whether the channel's recent error rate and median latency
// are within bounds. The judgement is deterministic for a given window.
func (h *ChannelHealth) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.next
	if h.filled {
		count = len(h.samples)
	}
	if count < healthMinSamplesToJudge {
		return true
	}

	failures := 0
	latencies := make([]time.Duration, 0, count)
	for i := 0; i < count; i++ {
		if h.samples[i].failed {
			failures++
		}
		latencies = append(latencies, h.samples[i].latency)
	}

	if float64(failures)/float64(count) > healthMaxErrorRate {
		return false
	}
	return medianDuration(latencies) <= healthMaxMedianLatency
}

func medianDuration(durations []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted[len(sorted)/2]
}
