// Package affinity implements Provider Affinity (L7): a rolling
// per-(job_key, provider_index) success/speed history that produces a
// deterministic provider ordering for the fetcher, plus epsilon-greedy
// exploration so the ordering doesn't lock in a transiently-best
// provider forever.
//
// The per-job bounded cache is grounded on the teacher's
// internal/fuse/cache/lru_cache.go hashicorp/golang-lru/v2 usage
// pattern (an LRU of a fixed capacity holding per-key stat structs);
// rolling-window arithmetic uses montanaflynn/stats rather than
// hand-rolled mean/percentile code.
package affinity

import (
	"math"
	"math/rand"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/montanaflynn/stats"

	"github.com/javi11/usenetstream/internal/nntp"
)

// scoredProvider pairs a candidate provider with its derived ranking
// score and current circuit availability.
type scoredProvider struct {
	cfg   nntp.ProviderConfig
	score float64
	avail bool
}

const (
	// defaultWindowSize is spec.md §4.7's N=256 rolling window of last
	// fetches; also this package's stand-in for a decay half-life —
	// older fetches age out of the ring buffer rather than being
	// down-weighted continuously.
	defaultWindowSize = 256
	// defaultExplorationDenominator: 1-in-32 fetches picks the
	// second-best candidate instead of the top-ranked one.
	defaultExplorationDenominator = 32
	// maxTrackedJobs bounds the affinity cache's memory footprint; job
	// keys beyond this are evicted LRU.
	maxTrackedJobs = 4096
)

// Config tunes a Scorer's exploration rate and per-provider history
// depth; see internal/config's Affinity sub-tree.
type Config struct {
	// Epsilon is the exploration probability (0,1]; 0 uses the
	// package's 1-in-32 default. Internally represented as
	// 1/ExplorationDenominator to keep the existing integer-modulo
	// exploration check exact.
	Epsilon float64
	// WindowSize is how many recent fetches per (job, provider) feed
	// the score; this is the closest analogue to a decay half-life
	// this ring-buffer design has — a larger window remembers further
	// back, a smaller one reacts faster to a provider's recent health.
	WindowSize int
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = defaultWindowSize
	}
	if c.Epsilon <= 0 || c.Epsilon > 1 {
		c.Epsilon = 1.0 / defaultExplorationDenominator
	}
	return c
}

func (c Config) explorationDenominator() int {
	d := int(1 / c.Epsilon)
	if d < 1 {
		d = 1
	}
	return d
}

// AvailabilityChecker reports whether a provider's circuit breaker
// currently allows traffic. internal/classify.Classifier implements
// this; it is accepted as an interface so affinity has no hard
// dependency on the classifier package.
type AvailabilityChecker interface {
	Available(providerIdx int) bool
}

type fetchSample struct {
	success  bool
	bytes    int64
	durationSeconds float64
}

type providerStats struct {
	mu         sync.Mutex
	windowSize int
	samples    []fetchSample // ring buffer, length capped at windowSize
	next       int
	filled     int
}

func (p *providerStats) record(success bool, bytes int64, durationSeconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.samples == nil {
		p.samples = make([]fetchSample, p.windowSize)
	}
	p.samples[p.next] = fetchSample{success: success, bytes: bytes, durationSeconds: durationSeconds}
	p.next = (p.next + 1) % p.windowSize
	if p.filled < p.windowSize {
		p.filled++
	}
}

// successRateAndSpeed computes the two derived metrics spec.md §4.7
// names: success_rate and recent_speed_bps (mean bytes/sec over
// successful samples in the window).
func (p *providerStats) successRateAndSpeed() (successRate, speedBps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.filled == 0 {
		return 1, 0 // no history: assume viable, neutral speed
	}

	var successes int
	var speeds []float64
	for i := 0; i < p.filled; i++ {
		s := p.samples[i]
		if s.success {
			successes++
			if s.durationSeconds > 0 {
				speeds = append(speeds, float64(s.bytes)/s.durationSeconds)
			}
		}
	}

	successRate = float64(successes) / float64(p.filled)
	if len(speeds) > 0 {
		if mean, err := stats.Mean(speeds); err == nil {
			speedBps = mean
		}
	}
	return successRate, speedBps
}

// jobStats holds per-provider stats for one job_key.
type jobStats struct {
	mu         sync.Mutex
	windowSize int
	providers  map[int]*providerStats
}

func newJobStats(windowSize int) *jobStats {
	return &jobStats{windowSize: windowSize, providers: make(map[int]*providerStats)}
}

func (j *jobStats) forProvider(idx int) *providerStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	p, ok := j.providers[idx]
	if !ok {
		p = &providerStats{windowSize: j.windowSize}
		j.providers[idx] = p
	}
	return p
}

// Scorer implements internal/nntp.Ranker and internal/nntp.Recorder: it
// both ranks candidate providers for a fetch and learns from each
// fetch's outcome.
type Scorer struct {
	cfg    Config
	jobs   *lru.Cache[string, *jobStats]
	avail  AvailabilityChecker
	rand   *rand.Rand
	randMu sync.Mutex
}

// New constructs a Scorer with built-in default exploration rate and
// window size. avail may be nil, in which case all providers are
// considered available (useful in tests).
func New(avail AvailabilityChecker) *Scorer {
	return NewWithConfig(Config{}, avail)
}

// NewWithConfig constructs a Scorer with an explicit Config, letting
// internal/config's Affinity sub-tree drive the exploration rate and
// per-provider history depth.
func NewWithConfig(cfg Config, avail AvailabilityChecker) *Scorer {
	cache, err := lru.New[string, *jobStats](maxTrackedJobs)
	if err != nil {
		// lru.New only errors on non-positive size, which maxTrackedJobs
		// never is; this would be a programming error, not a runtime one.
		panic(err)
	}
	return &Scorer{
		cfg:   cfg.withDefaults(),
		jobs:  cache,
		avail: avail,
		rand:  rand.New(rand.NewSource(1)),
	}
}

func (s *Scorer) job(jobKey string) *jobStats {
	if jobKey == "" {
		jobKey = "<default>"
	}
	if j, ok := s.jobs.Get(jobKey); ok {
		return j
	}
	j := newJobStats(s.cfg.WindowSize)
	s.jobs.Add(jobKey, j)
	return j
}

// score implements spec.md §4.7's deterministic ordering function:
// success_rate * log(1 + recent_speed_bps).
func score(successRate, speedBps float64) float64 {
	return successRate * math.Log(1+speedBps)
}

// Order ranks providers for usage per spec.md §4.2 step 1: Pool
// providers first (sorted by score descending, with 1-in-32 ε-greedy
// exploration swapping in the second-best), then BackupAndStats, then
// BackupOnly. Circuit-broken providers (per AvailabilityChecker) are
// moved to the back of their tier rather than dropped, so a fetch still
// has a fallback if every other candidate also fails.
func (s *Scorer) Order(providers []nntp.ProviderConfig, usage nntp.UsageContext) []nntp.ProviderConfig {
	job := s.job(usage.AffinityKey)

	byTier := map[nntp.Role][]scoredProvider{}
	for _, p := range providers {
		if p.Role == nntp.RoleDisabled {
			continue
		}
		st := job.forProvider(p.Index)
		sr, bps := st.successRateAndSpeed()
		avail := s.avail == nil || s.avail.Available(p.Index)
		byTier[p.Role] = append(byTier[p.Role], scoredProvider{cfg: p, score: score(sr, bps), avail: avail})
	}

	rankTier := func(tier []scoredProvider) []nntp.ProviderConfig {
		sortScored(tier)
		out := make([]nntp.ProviderConfig, 0, len(tier))
		for _, t := range tier {
			out = append(out, t.cfg)
		}
		return applyExploration(s, out)
	}

	var out []nntp.ProviderConfig
	out = append(out, rankTier(byTier[nntp.RolePool])...)
	out = append(out, rankTier(byTier[nntp.RoleBackupAndStats])...)
	out = append(out, rankTier(byTier[nntp.RoleBackupOnly])...)
	return out
}

// sortScored orders by descending score, with unavailable (circuit-
// broken) candidates pushed to the end regardless of score.
func sortScored(tier []scoredProvider) {
	sortBy(tier, func(a, b scoredProvider) bool {
		if a.avail != b.avail {
			return a.avail // available sorts before unavailable
		}
		return a.score > b.score
	})
}

func applyExploration(s *Scorer, ranked []nntp.ProviderConfig) []nntp.ProviderConfig {
	if len(ranked) < 2 {
		return ranked
	}

	s.randMu.Lock()
	pick := s.rand.Intn(s.cfg.explorationDenominator())
	s.randMu.Unlock()

	if pick != 0 {
		return ranked
	}

	swapped := make([]nntp.ProviderConfig, len(ranked))
	copy(swapped, ranked)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	return swapped
}

// RecordFetch implements internal/nntp.Recorder, feeding each fetch
// outcome back into the rolling window for (jobKey, providerIdx).
func (s *Scorer) RecordFetch(providerIdx int, jobKey string, bytesRead int64, dur time.Duration, err error) {
	job := s.job(jobKey)
	st := job.forProvider(providerIdx)
	st.record(err == nil, bytesRead, dur.Seconds())
}

// ClearJob resets all provider rows for jobKey.
func (s *Scorer) ClearJob(jobKey string) {
	if jobKey == "" {
		jobKey = "<default>"
	}
	s.jobs.Remove(jobKey)
}

// ClearAll resets every tracked job.
func (s *Scorer) ClearAll() {
	s.jobs.Purge()
}

func sortBy(tier []scoredProvider, less func(a, b scoredProvider) bool) {
	// Small N (provider counts are tens at most): insertion sort keeps
	// this dependency-free and keeps ties stable for the exploration
	// step above.
	for i := 1; i < len(tier); i++ {
		j := i
		for j > 0 && less(tier[j], tier[j-1]) {
			tier[j], tier[j-1] = tier[j-1], tier[j]
			j--
		}
	}
}
