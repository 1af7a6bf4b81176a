package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/javi11/usenetstream/internal/nntp"
)

// Conn is the slice of internal/nntp.Conn a probe needs. *nntp.Conn
// satisfies this directly; tests fake it without a real socket.
type Conn interface {
	Stat(msgID string) (nntp.ArticleStatus, error)
	Body(msgID string, w io.Writer) (nntp.ArticleStatus, error)
}

// ConnPool is the slice of internal/nntp.Pool the checker needs: borrow
// a connection for a specific provider, issue one probe, give it back.
// Use NewConnPool to adapt a real *nntp.Pool.
type ConnPool interface {
	Providers() []nntp.ProviderConfig
	Borrow(ctx context.Context, providerIdx int) (Conn, error)
	Release(conn Conn)
}

// Config tunes a check_segments run.
type Config struct {
	// Concurrency bounds how many segments are probed at once.
	Concurrency int
	// SamplePercentage selects how much of the segment list to probe;
	// 0 defaults to 100 (probe everything). See selectSample.
	SamplePercentage int
	// UseHead, when true, reads one byte of the article body instead of
	// a bare STAT — some providers answer STAT for an article they no
	// longer actually serve, so a 1-byte read is the only way to catch
	// a false "present" before a client pays for a full fetch.
	UseHead bool
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.SamplePercentage <= 0 {
		c.SamplePercentage = 100
	}
	return c
}

// Result is the outcome of check_segments: OK unless a sampled segment
// is missing, in which case FirstMissing names the first one found
// (sampling order is not guaranteed, "first" means first to resolve).
type Result struct {
	OK           bool
	Checked      int
	FirstMissing string
}

// DetailedResult is Result plus every missing id, for callers that want
// a full breakdown rather than a fail-fast probe.
type DetailedResult struct {
	Checked   int
	MissingIDs []string
}

var errLimitReached = errors.New("health: read limit reached")

// limitedWriter discards bytes past limit and reports errLimitReached,
// which CheckSegments treats as a successful probe: the provider served
// real data, and there is no reason to read further.
type limitedWriter struct {
	limit int64
	read  int64
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.read += int64(len(p))
	if w.read >= w.limit {
		return len(p), errLimitReached
	}
	return len(p), nil
}

// probe checks one segment id against providerIdx, returning true if the
// provider has it.
func probe(ctx context.Context, pool ConnPool, providerIdx int, id string, useHead bool) (bool, error) {
	conn, err := pool.Borrow(ctx, providerIdx)
	if err != nil {
		return false, fmt.Errorf("health: borrow connection: %w", err)
	}
	defer pool.Release(conn)

	if !useHead {
		status, err := conn.Stat(id)
		if status == nntp.StatusMissing {
			return false, nil
		}
		return status == nntp.StatusOK, err
	}

	lw := &limitedWriter{limit: 1}
	status, err := conn.Body(id, lw)
	if status == nntp.StatusMissing {
		return false, nil
	}
	if errors.Is(err, errLimitReached) {
		return true, nil
	}
	return status == nntp.StatusOK, err
}

// CheckSegments fires a STAT (or, with cfg.UseHead, a 1-byte BODY read)
// at a sampled subset of ids against providerIdx, bounded by
// cfg.Concurrency, and resolves as soon as one is found missing or every
// sampled id has answered present.
func CheckSegments(ctx context.Context, pool ConnPool, providerIdx int, ids []string, cfg Config, log *slog.Logger) (Result, error) {
	cfg = cfg.withDefaults()
	sample := selectSample(ids, cfg.SamplePercentage)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := concpool.New().WithContext(ctx).WithMaxGoroutines(cfg.Concurrency).WithCancelOnError()

	var firstMissing string
	var found bool
	for _, id := range sample {
		id := id
		p.Go(func(ctx context.Context) error {
			present, err := probe(ctx, pool, providerIdx, id, cfg.UseHead)
			if err != nil {
				log.Warn("health: probe failed", "segment", id, "error", err)
				return nil
			}
			if !present && !found {
				found = true
				firstMissing = id
				return fmt.Errorf("health: segment missing: %s", id)
			}
			return nil
		})
	}

	err := p.Wait()
	if found {
		return Result{OK: false, Checked: len(sample), FirstMissing: firstMissing}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{OK: true, Checked: len(sample)}, nil
}

// CheckSegmentsDetailed is CheckSegments without the fail-fast early
// exit: every sampled id is probed and every missing one reported.
func CheckSegmentsDetailed(ctx context.Context, pool ConnPool, providerIdx int, ids []string, cfg Config, log *slog.Logger) (DetailedResult, error) {
	cfg = cfg.withDefaults()
	sample := selectSample(ids, cfg.SamplePercentage)

	p := concpool.New().WithContext(ctx).WithMaxGoroutines(cfg.Concurrency)

	var mu sliceCollector
	for _, id := range sample {
		id := id
		p.Go(func(ctx context.Context) error {
			present, err := probe(ctx, pool, providerIdx, id, cfg.UseHead)
			if err != nil {
				log.Warn("health: probe failed", "segment", id, "error", err)
				return nil
			}
			if !present {
				mu.add(id)
			}
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return DetailedResult{}, err
	}
	return DetailedResult{Checked: len(sample), MissingIDs: mu.ids}, nil
}
