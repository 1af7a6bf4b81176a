// Package bandwidth implements the Bandwidth Meter (L10): per-provider,
// per-time-bucket aggregation of transferred bytes, exposing a
// calculated recent download speed the same way the teacher's
// MetricsTracker does — a short rolling sample window searched
// backward for the entry closest to calculationWindow ago, rather than
// a naive total-since-start average which would under-react to recent
// slowdowns.
//
// Grounded on internal/pool/metrics_tracker.go's sample/
// retentionPeriod/calculationWindow shape; adapted from a single
// pool-wide tracker wrapping an external nntppool snapshot into a
// per-provider map fed directly by L2's RecordFetch callback, since
// this module has no external pool library to poll.
package bandwidth

import (
	"sync"
	"time"
)

const (
	defaultRetentionPeriod   = 60 * time.Second
	defaultCalculationWindow = 10 * time.Second
	defaultMaxSamples        = 256
)

// Config tunes the sampling window a Meter keeps per provider; see
// internal/config's Bandwidth sub-tree for where these are set from.
type Config struct {
	// SampleInterval is, outside this package, the cadence L2 records
	// fetch outcomes at; Meter itself only consumes what it's given, so
	// this field exists for symmetry with the config surface and is not
	// read here.
	SampleInterval time.Duration
	// RetentionPeriod bounds how long a sample is kept before eviction.
	RetentionPeriod time.Duration
	// CalculationWindow is how far back Snapshot's speed figure looks.
	CalculationWindow time.Duration
	// MaxSamples hard-caps the ring buffer regardless of RetentionPeriod.
	MaxSamples int
}

func (c Config) withDefaults() Config {
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = defaultRetentionPeriod
	}
	if c.CalculationWindow <= 0 {
		c.CalculationWindow = defaultCalculationWindow
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = defaultMaxSamples
	}
	return c
}

// Snapshot is one provider's metrics at read time.
type Snapshot struct {
	ProviderIndex     int
	BytesTransferred  int64
	ArticlesFetched   int64
	Errors            int64
	RecentSpeedBps    float64
	LastUsed          time.Time
}

type sample struct {
	bytes     int64
	timestamp time.Time
}

type providerMeter struct {
	mu  sync.Mutex
	cfg Config

	bytesTotal    int64
	articlesTotal int64
	errorsTotal   int64
	lastUsed      time.Time

	samples []sample // ring buffer over the last RetentionPeriod worth of fetches
}

func (p *providerMeter) record(bytesRead int64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.lastUsed = now
	if err != nil {
		p.errorsTotal++
		return
	}

	p.bytesTotal += bytesRead
	p.articlesTotal++
	p.samples = append(p.samples, sample{bytes: bytesRead, timestamp: now})
	p.cleanupLocked(now)
}

func (p *providerMeter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-p.cfg.RetentionPeriod)
	keepFrom := 0
	for i, s := range p.samples {
		if s.timestamp.After(cutoff) {
			keepFrom = i
			break
		}
		keepFrom = i + 1
	}
	if keepFrom > 0 {
		p.samples = p.samples[keepFrom:]
	}
	if len(p.samples) > p.cfg.MaxSamples {
		p.samples = p.samples[len(p.samples)-p.cfg.MaxSamples:]
	}
}

// speed computes bytes/sec over CalculationWindow, searching backward
// for the sample closest to (now - CalculationWindow) the same way
// the teacher's calculateSpeeds does, rather than averaging over the
// full retention period.
func (p *providerMeter) speed(now time.Time) float64 {
	if len(p.samples) < 2 {
		return 0
	}

	target := now.Add(-p.cfg.CalculationWindow)
	compareIdx := 0
	for i := len(p.samples) - 1; i >= 0; i-- {
		if !p.samples[i].timestamp.After(target) {
			compareIdx = i
			break
		}
	}

	var windowBytes int64
	for i := compareIdx + 1; i < len(p.samples); i++ {
		windowBytes += p.samples[i].bytes
	}

	elapsed := now.Sub(p.samples[compareIdx].timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(windowBytes) / elapsed
}

// Meter implements internal/nntp.Recorder, aggregating transferred
// bytes per provider per time bucket.
type Meter struct {
	mu        sync.Mutex
	cfg       Config
	providers map[int]*providerMeter
}

// New constructs an empty Meter using built-in default windowing.
func New() *Meter {
	return NewWithConfig(Config{})
}

// NewWithConfig constructs an empty Meter with an explicit Config,
// letting internal/config's Bandwidth sub-tree drive the retention
// period, calculation window, and sample cap.
func NewWithConfig(cfg Config) *Meter {
	return &Meter{cfg: cfg.withDefaults(), providers: make(map[int]*providerMeter)}
}

func (m *Meter) forProvider(idx int) *providerMeter {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[idx]
	if !ok {
		p = &providerMeter{cfg: m.cfg}
		m.providers[idx] = p
	}
	return p
}

// RecordFetch satisfies internal/nntp.Recorder. jobKey is not tracked
// here — per-job learning is internal/affinity's concern; this meter
// only aggregates per provider.
func (m *Meter) RecordFetch(providerIdx int, jobKey string, bytesRead int64, dur time.Duration, err error) {
	_ = dur
	m.forProvider(providerIdx).record(bytesRead, err)
}

// Snapshot returns providerIdx's current aggregate, or a zero-valued
// Snapshot if nothing has ever been recorded for it.
func (m *Meter) Snapshot(providerIdx int) Snapshot {
	m.mu.Lock()
	p, ok := m.providers[providerIdx]
	m.mu.Unlock()
	if !ok {
		return Snapshot{ProviderIndex: providerIdx}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	return Snapshot{
		ProviderIndex:    providerIdx,
		BytesTransferred: p.bytesTotal,
		ArticlesFetched:  p.articlesTotal,
		Errors:           p.errorsTotal,
		RecentSpeedBps:   p.speed(now),
		LastUsed:         p.lastUsed,
	}
}

// SnapshotAll returns a snapshot for every provider with recorded
// activity, used by the external metadata endpoints spec.md §6 names
// as out-of-core consumers of these records.
func (m *Meter) SnapshotAll() []Snapshot {
	m.mu.Lock()
	indices := make([]int, 0, len(m.providers))
	for idx := range m.providers {
		indices = append(indices, idx)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(indices))
	for _, idx := range indices {
		out = append(out, m.Snapshot(idx))
	}
	return out
}

// Reset clears every provider's counters, used by a wholesale stat
// reset per spec.md §3's Stat Records lifecycle note.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = make(map[int]*providerMeter)
}
