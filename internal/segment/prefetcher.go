// Package segment implements the Segment Cache/Prefetcher (L4): given
// an ordered list of article ids, it exposes a sequential byte reader
// that fetches up to a bounded window of future segments in parallel,
// while guaranteeing bytes are emitted to the caller in exact segment
// order regardless of fetch-completion order.
//
// Grounded on the teacher's internal/usenet/usenet_reader.go worker
// pool (sourcegraph/conc/pool bounded by maxDownloadWorkers queues all
// segment downloads up front, with the pool internally throttling
// concurrency) and its buffered, non-blocking segment.go completion
// channel. Re-expressed against this module's own internal/nntp.Fetcher
// (already-decoded payloads) instead of a raw nntppool client, and
// restructured around the explicit next_to_emit/pending/ready state
// the component design names, with fetches queued incrementally as the
// read/seek cursor advances rather than all up front.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/javi11/usenetstream/internal/nntp"
)

// ErrNotSeekable is returned by Seek when not every segment carries an
// exact declared size, per spec.md's "Stream seekability with unknown
// sizes" design note.
var ErrNotSeekable = errors.New("segment: stream is not seekable (missing declared sizes)")

// ErrClosed is returned by Read/Seek after Close.
var ErrClosed = errors.New("segment: prefetcher closed")

// Fetcher is the narrow dependency this package needs from L2;
// internal/nntp.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, msgID string, usage nntp.UsageContext) ([]byte, error)
}

// Config sizes the prefetcher's concurrency.
type Config struct {
	// ConnectionsBudget is "connections per stream" (usenet.connections-per-stream),
	// default 20.
	ConnectionsBudget int
	// PrefetchWindow caps |pending|+|ready|; default 5x ConnectionsBudget,
	// capped by the total segment count.
	PrefetchWindow int
}

func (c Config) withDefaults(totalSegments int) Config {
	if c.ConnectionsBudget <= 0 {
		c.ConnectionsBudget = 20
	}
	if c.PrefetchWindow <= 0 {
		c.PrefetchWindow = 5 * c.ConnectionsBudget
	}
	if c.PrefetchWindow > totalSegments {
		c.PrefetchWindow = totalSegments
	}
	return c
}

type fetchResult struct {
	data []byte
	err  error
}

// Prefetcher implements the L4 read/seek/close operations over an
// ordered segment-id list.
type Prefetcher struct {
	fetcher Fetcher
	usage   nntp.UsageContext
	log     *slog.Logger

	ids        []string
	sizeHints  []int64 // 0 means unknown; all non-zero => seekable
	seekable   bool
	cumulative []int64 // cumulative size up to (exclusive) index i, valid only if seekable

	cfg        Config
	workerPool *pool.Pool

	mu         sync.Mutex
	nextToEmit int
	pending    map[int]chan fetchResult
	cancels    map[int]context.CancelFunc
	ready      map[int][]byte
	curOff     int // read offset within ready[nextToEmit]
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Prefetcher over ids. sizeHints may be nil or
// contain zeros for segments whose size isn't known in advance; the
// stream is only seekable if every entry is non-zero.
func New(ctx context.Context, fetcher Fetcher, ids []string, sizeHints []int64, usage nntp.UsageContext, cfg Config, log *slog.Logger) *Prefetcher {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults(len(ids))

	seekable := len(sizeHints) == len(ids) && len(ids) > 0
	cumulative := make([]int64, len(ids)+1)
	if seekable {
		for i, sz := range sizeHints {
			if sz <= 0 {
				seekable = false
				break
			}
			cumulative[i+1] = cumulative[i] + sz
		}
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &Prefetcher{
		fetcher:    fetcher,
		usage:      usage,
		log:        log.With("component", "segment.prefetcher"),
		ids:        ids,
		sizeHints:  sizeHints,
		seekable:   seekable,
		cumulative: cumulative,
		cfg:        cfg,
		workerPool: pool.New().WithMaxGoroutines(cfg.ConnectionsBudget),
		pending:    make(map[int]chan fetchResult),
		cancels:    make(map[int]context.CancelFunc),
		ready:      make(map[int][]byte),
		ctx:        pctx,
		cancel:     cancel,
	}
	p.fillWindowLocked()
	return p
}

// fillWindowLocked launches fetches so that |pending|+|ready| targets
// prefetch_window, starting at next_to_emit. Callers must hold p.mu;
// kept simple (single lock, no finer-grained sharding) since segment
// counts are small (tens to low hundreds) relative to fetch latency.
func (p *Prefetcher) fillWindowLocked() {
	inFlight := len(p.pending) + len(p.ready)
	next := p.nextToEmit
	for inFlight < p.cfg.PrefetchWindow && next < len(p.ids) {
		if _, pending := p.pending[next]; pending {
			next++
			continue
		}
		if _, has := p.ready[next]; has {
			next++
			continue
		}
		p.launchFetchLocked(next)
		inFlight++
		next++
	}
}

// launchFetchLocked queues idx's fetch on the worker pool. Pool.Go
// spawns its bookkeeping goroutine immediately and only the actual
// fetch call waits on the pool's internal concurrency limiter, so this
// is safe to call while holding p.mu.
func (p *Prefetcher) launchFetchLocked(idx int) {
	fetchCtx, cancel := context.WithCancel(p.ctx)
	ch := make(chan fetchResult, 1)
	p.pending[idx] = ch
	p.cancels[idx] = cancel

	p.workerPool.Go(func() {
		payload, err := p.fetcher.Fetch(fetchCtx, p.ids[idx], p.usage)
		ch <- fetchResult{data: payload, err: err}
	})
}

// awaitSegment blocks until segment idx is ready, launching it
// directly if it has neither a pending fetch nor a ready buffer (e.g.
// right after a seek jumped past the previous window).
func (p *Prefetcher) awaitSegment(idx int) ([]byte, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if data, ok := p.ready[idx]; ok {
		p.mu.Unlock()
		return data, nil
	}
	ch, ok := p.pending[idx]
	if !ok {
		p.launchFetchLocked(idx)
		ch = p.pending[idx]
	}
	p.mu.Unlock()

	res := <-ch

	p.mu.Lock()
	delete(p.pending, idx)
	delete(p.cancels, idx)
	if res.err == nil {
		p.ready[idx] = res.data
	}
	p.mu.Unlock()

	return res.data, res.err
}

// Read delivers the next bytes from the segment at next_to_emit,
// awaiting it if not yet ready, then advances next_to_emit and tops up
// the prefetch window. A single Read call awaits at most one segment.
func (p *Prefetcher) Read(dst []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	if p.nextToEmit >= len(p.ids) {
		p.mu.Unlock()
		return 0, io.EOF
	}
	idx := p.nextToEmit
	p.mu.Unlock()

	data, err := p.awaitSegment(idx)
	if err != nil {
		return 0, fmt.Errorf("segment: fetch segment %d (%s): %w", idx, p.ids[idx], err)
	}

	p.mu.Lock()
	n := copy(dst, data[p.curOff:])
	p.curOff += n
	if p.curOff >= len(data) {
		delete(p.ready, idx)
		p.nextToEmit++
		p.curOff = 0
		p.fillWindowLocked()
	}
	p.mu.Unlock()

	return n, nil
}

// Seek jumps to the segment containing byte offset and the intra-
// segment offset within it, cancelling fetches now outside the window
// and discarding ready buffers outside it. Returns ErrNotSeekable if
// segment sizes weren't all known at construction, except for a no-op
// seek to the position the prefetcher already sits at (notably offset 0
// on a freshly constructed one): every part's first read reaches the
// prefetcher through exactly this call, so refusing it would make even
// plain sequential reading of an unsized part impossible.
func (p *Prefetcher) Seek(offset int64) error {
	if !p.seekable {
		p.mu.Lock()
		closed := p.closed
		atStart := offset == 0 && p.nextToEmit == 0 && p.curOff == 0
		p.mu.Unlock()
		if closed {
			return ErrClosed
		}
		if atStart {
			return nil
		}
		return ErrNotSeekable
	}
	if offset < 0 || offset > p.cumulative[len(p.ids)] {
		return fmt.Errorf("segment: seek offset %d out of range [0, %d]", offset, p.cumulative[len(p.ids)])
	}

	targetIdx := len(p.ids)
	for i := 0; i < len(p.ids); i++ {
		if offset < p.cumulative[i+1] {
			targetIdx = i
			break
		}
	}
	intraOffset := 0
	if targetIdx < len(p.ids) {
		intraOffset = int(offset - p.cumulative[targetIdx])
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	windowEnd := targetIdx + p.cfg.PrefetchWindow
	for idx, cancel := range p.cancels {
		if idx < targetIdx || idx >= windowEnd {
			cancel()
			delete(p.pending, idx)
			delete(p.cancels, idx)
		}
	}
	for idx := range p.ready {
		if idx < targetIdx || idx >= windowEnd {
			delete(p.ready, idx)
		}
	}

	p.nextToEmit = targetIdx
	p.curOff = intraOffset
	p.fillWindowLocked()
	return nil
}

// Close cancels all outstanding fetches and waits for the worker pool
// to drain, so no detached task outlives the prefetcher.
func (p *Prefetcher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cancel()
	p.mu.Unlock()

	p.workerPool.Wait()
	return nil
}

// Len reports the total segment count, used by callers building a
// cumulative size index for an enclosing File Stream.
func (p *Prefetcher) Len() int { return len(p.ids) }

// Seekable reports whether every segment carried an exact declared
// size at construction.
func (p *Prefetcher) Seekable() bool { return p.seekable }

// Size returns the total declared length, or 0 if not seekable.
func (p *Prefetcher) Size() int64 {
	if !p.seekable {
		return 0
	}
	return p.cumulative[len(p.ids)]
}
