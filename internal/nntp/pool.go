package nntp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	ErrPoolClosed          = errors.New("nntp: pool closed")
	ErrPoolTimeout         = errors.New("nntp: borrow timed out")
	ErrCancelled           = errors.New("nntp: borrow cancelled")
	ErrProviderUnavailable = errors.New("nntp: provider unavailable")
)

// PoolConfig bounds the lifecycle knobs for the pool as a whole. Default
// values match the teacher's provider_factory.go ProviderOptions and the
// idle-timeout/drain-timeout figures named in spec.md §4.1.
type PoolConfig struct {
	IdleTimeout  time.Duration // default 5 min
	DrainTimeout time.Duration // default 10 s
	DialTimeout  time.Duration // default 15 s
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	return c
}

type waiter struct {
	ch chan *Conn
}

// Pool hands out authenticated NNTP connections bounded by per-provider
// max_connections, with a FIFO wait queue per provider so a returned
// connection goes to the longest-waiting borrower. It does not itself
// enforce usage-class reservations — that is internal/admission's job
// (L8); the pool only tracks per-provider capacity (L1's own
// responsibility per spec.md §4.1).
type Pool struct {
	cfg PoolConfig
	log *slog.Logger

	mu        sync.Mutex
	providers map[int]*Provider
	waiters   map[int][]waiter
	closed    bool
	closeCh   chan struct{}
	wg        sync.WaitGroup

	// inUse holds every connection currently borrowed (not idle, not
	// closed), including ones Release just handed straight to the next
	// waiter. Close drains against this set.
	inUse     map[*Conn]struct{}
	drainCond *sync.Cond
}

// NewPool constructs an empty pool; providers are added with AddProvider.
func NewPool(cfg PoolConfig, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		cfg:       cfg.withDefaults(),
		log:       log.With("component", "nntp.pool"),
		providers: make(map[int]*Provider),
		waiters:   make(map[int][]waiter),
		closeCh:   make(chan struct{}),
		inUse:     make(map[*Conn]struct{}),
	}
	p.drainCond = sync.NewCond(&p.mu)
	p.wg.Add(1)
	go p.reapIdleLoop()
	return p
}

// AddProvider registers an upstream for borrowing.
func (p *Pool) AddProvider(cfg ProviderConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providers[cfg.Index] = newProvider(cfg)
}

// Providers returns the configured providers in index order, used by
// internal/affinity to build a ranking without reaching into pool
// internals.
func (p *Pool) Providers() []ProviderConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProviderConfig, 0, len(p.providers))
	for _, pr := range p.providers {
		out = append(out, pr.Config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Borrow waits until a connection to providerIdx is available, dialing
// a fresh one if the provider is under its max_connections cap and none
// is idle. It returns ErrCancelled if ctx is done first.
func (p *Pool) Borrow(ctx context.Context, providerIdx int) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	prov, ok := p.providers[providerIdx]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: provider %d not registered", ErrProviderUnavailable, providerIdx)
	}

	if n := len(prov.idle); n > 0 {
		c := prov.idle[n-1]
		prov.idle = prov.idle[:n-1]
		prov.inUse++
		p.inUse[c] = struct{}{}
		p.mu.Unlock()
		return c, nil
	}

	if prov.inUse < prov.Config.MaxConnections {
		prov.inUse++
		p.mu.Unlock()

		c, err := p.dialWithSerialization(ctx, prov)
		if err != nil {
			p.mu.Lock()
			prov.inUse--
			p.mu.Unlock()
			return nil, err
		}
		p.mu.Lock()
		p.inUse[c] = struct{}{}
		p.mu.Unlock()
		return c, nil
	}

	// At capacity: enqueue and wait.
	w := waiter{ch: make(chan *Conn, 1)}
	p.waiters[providerIdx] = append(p.waiters[providerIdx], w)
	p.mu.Unlock()

	select {
	case c, ok := <-w.ch:
		if !ok {
			return nil, ErrPoolClosed
		}
		return c, nil
	case <-ctx.Done():
		return nil, ErrCancelled
	}
}

func (p *Pool) dialWithSerialization(ctx context.Context, prov *Provider) (*Conn, error) {
	select {
	case prov.dialSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ErrCancelled
	}
	defer func() { <-prov.dialSem }()

	type result struct {
		c   *Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := dial(prov.Config, p.cfg.DialTimeout)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		return r.c, r.err
	case <-ctx.Done():
		// The dial goroutine leaks until it completes; acceptable since
		// dials are bounded by DialTimeout and per-provider serialized.
		return nil, ErrCancelled
	}
}

// Release returns conn to the idle queue, waking the oldest waiter if
// any, or destroys it if it's broken.
func (p *Pool) Release(conn *Conn) {
	p.mu.Lock()
	prov, ok := p.providers[conn.providerIdx]
	if !ok {
		p.releaseInUseLocked(conn)
		p.mu.Unlock()
		_ = conn.Close()
		return
	}

	prov.inUse--

	if conn.Broken() || p.closed {
		p.releaseInUseLocked(conn)
		p.mu.Unlock()
		_ = conn.Close()
		return
	}

	if waiters := p.waiters[conn.providerIdx]; len(waiters) > 0 {
		w := waiters[0]
		p.waiters[conn.providerIdx] = waiters[1:]
		prov.inUse++
		// conn stays in p.inUse: it is handed straight to the next
		// borrower, never idle in between.
		p.mu.Unlock()
		w.ch <- conn
		return
	}

	conn.state = StateIdle
	prov.idle = append(prov.idle, conn)
	p.releaseInUseLocked(conn)
	p.mu.Unlock()
}

// releaseInUseLocked removes conn from the in-use set and wakes any
// Close waiting for the pool to drain. Callers must hold p.mu.
func (p *Pool) releaseInUseLocked(conn *Conn) {
	delete(p.inUse, conn)
	if len(p.inUse) == 0 {
		p.drainCond.Broadcast()
	}
}

func (p *Pool) reapIdleLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	now := time.Now()
	p.mu.Lock()
	var stale []*Conn
	for _, prov := range p.providers {
		kept := prov.idle[:0]
		for _, c := range prov.idle {
			if c.idleFor(now) > p.cfg.IdleTimeout {
				stale = append(stale, c)
			} else {
				kept = append(kept, c)
			}
		}
		prov.idle = kept
	}
	p.mu.Unlock()

	for _, c := range stale {
		_ = c.Close()
	}
	if len(stale) > 0 {
		p.log.Debug("nntp.pool.idle_reaped", slog.Int("count", len(stale)))
	}
}

// Close closes all idle connections immediately, waits up to
// DrainTimeout for in-use connections to be released, then force-closes
// whatever remains.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)

	var toClose []*Conn
	for _, prov := range p.providers {
		toClose = append(toClose, prov.idle...)
		prov.idle = nil
	}
	for _, ws := range p.waiters {
		for _, w := range ws {
			close(w.ch)
		}
	}
	p.waiters = make(map[int][]waiter)
	p.mu.Unlock()

	for _, c := range toClose {
		_ = c.Close()
	}

	p.waitForDrain()

	p.wg.Wait()
	return nil
}

// waitForDrain blocks until every borrowed connection has been released,
// or DrainTimeout elapses, in which case whatever is still in use is
// force-closed.
func (p *Pool) waitForDrain() {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for len(p.inUse) > 0 {
			p.drainCond.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(p.cfg.DrainTimeout):
	}

	p.mu.Lock()
	remaining := make([]*Conn, 0, len(p.inUse))
	for c := range p.inUse {
		remaining = append(remaining, c)
	}
	p.inUse = make(map[*Conn]struct{})
	p.drainCond.Broadcast()
	p.mu.Unlock()

	if len(remaining) > 0 {
		p.log.Warn("nntp.pool.drain_timeout_force_closed", slog.Int("count", len(remaining)))
	}
	for _, c := range remaining {
		_ = c.Close()
	}
}
