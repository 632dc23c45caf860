// Package metrics keeps process-local pipeline counters and rolling latency
// windows. A Sink is safe for concurrent use.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const DefaultWindowSize = 1000

type Option func(*Sink)

// WithWindowSize sets the capacity of every latency window.
func WithWindowSize(size int) Option {
	return func(s *Sink) {
		if size > 0 {
			s.windowSize = size
		}
	}
}

// WithRegisterer mirrors counters and latencies into Prometheus collectors
// registered on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Sink) {
		s.mirror = newPromMirror(reg)
	}
}

type Sink struct {
	counters   sync.Map // string -> *atomic.Int64
	windows    sync.Map // string -> *window
	windowSize int
	mirror     *promMirror
}

func NewSink(opts ...Option) *Sink {
	s := &Sink{windowSize: DefaultWindowSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Increment(name string) {
	counter, _ := s.counters.LoadOrStore(name, new(atomic.Int64))
	counter.(*atomic.Int64).Add(1)
	if s.mirror != nil {
		s.mirror.events.WithLabelValues(name).Inc()
	}
}

func (s *Sink) RecordLatency(name string, ms float64) {
	w, ok := s.windows.Load(name)
	if !ok {
		w, _ = s.windows.LoadOrStore(name, newWindow(s.windowSize))
	}
	w.(*window).add(ms)
	if s.mirror != nil {
		s.mirror.latency.WithLabelValues(name).Observe(ms)
	}
}

// Counters returns a snapshot of every counter.
func (s *Sink) Counters() map[string]int64 {
	out := map[string]int64{}
	s.counters.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

func (s *Sink) Counter(name string) int64 {
	counter, ok := s.counters.Load(name)
	if !ok {
		return 0
	}
	return counter.(*atomic.Int64).Load()
}

// AverageLatency averages the samples currently in the window. It returns 0
// for an unknown or empty window.
func (s *Sink) AverageLatency(name string) float64 {
	w, ok := s.windows.Load(name)
	if !ok {
		return 0
	}
	return w.(*window).average()
}

// Latencies returns the current average of every window.
func (s *Sink) Latencies() map[string]float64 {
	out := map[string]float64{}
	s.windows.Range(func(key, value any) bool {
		out[key.(string)] = value.(*window).average()
		return true
	})
	return out
}

// window is a fixed-capacity ring buffer. Appending and evicting happen under
// one lock so concurrent appenders never lose samples to a trim.
type window struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

func newWindow(size int) *window {
	return &window{samples: make([]float64, size)}
}

func (w *window) add(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *window) len() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

func (w *window) average() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.len()
	if n == 0 {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		total += w.samples[i]
	}
	return total / float64(n)
}

type promMirror struct {
	events  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newPromMirror(reg prometheus.Registerer) *promMirror {
	m := &promMirror{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querydesk_pipeline_events_total",
				Help: "Pipeline events recorded by the metrics sink.",
			},
			[]string{"event"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querydesk_pipeline_latency_ms",
				Help:    "Pipeline stage latency in milliseconds.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
			},
			[]string{"stage"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.latency)
	}
	return m
}
