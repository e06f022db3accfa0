package core

import (
	"sync"
	"time"

	"github.com/spaghettifunk/radix/engine/containers"
)

const AVG_COUNT int = 30

// Metrics keeps a rolling window of digit-pass submission latencies
// together with whole-run throughput figures.
type Metrics struct {
	mu          sync.Mutex
	passTimes   *containers.RingQueue[time.Duration]
	passes      uint64
	elements    uint64
	sortElapsed time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{
		passTimes: containers.NewRingQueue[time.Duration](AVG_COUNT),
	}
}

// RecordPass stores how long one digit pass took from fence wait to submit.
func (m *Metrics) RecordPass(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passTimes.Push(d)
	m.passes++
}

// RecordSort accumulates one finished sort run.
func (m *Metrics) RecordSort(elements int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elements += uint64(elements)
	m.sortElapsed += elapsed
}

// PassAverageMS is the mean over the last AVG_COUNT passes.
func (m *Metrics) PassAverageMS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.passTimes.IsEmpty() {
		return 0
	}
	var total time.Duration
	m.passTimes.Each(func(d time.Duration) { total += d })
	return float64(total) / float64(m.passTimes.Len()) / float64(time.Millisecond)
}

func (m *Metrics) Passes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passes
}

// Throughput is sorted elements per second across all recorded runs.
func (m *Metrics) Throughput() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sortElapsed <= 0 {
		return 0
	}
	return float64(m.elements) / m.sortElapsed.Seconds()
}
