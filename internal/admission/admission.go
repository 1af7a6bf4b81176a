// Package admission implements the Usage/Admission Controller (L8):
// three counting semaphores (streaming, queue, health-check) so that
// background work can never starve interactive playback, plus a
// reserved sub-quota within the streaming class for verified-playing
// sessions.
//
// The semaphore primitive is golang.org/x/sync/semaphore.Weighted — the
// teacher imports golang.org/x/sync already (for singleflight, in
// internal/arrs/data/manager.go); semaphore is the same module's
// standard counting-semaphore building block and gives FIFO-fair
// acquire ordering for free, which spec.md §4.8 requires.
package admission

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/javi11/usenetstream/internal/nntp"
)

// ErrInvalidClass is returned when a caller passes a usage kind the
// controller doesn't recognize.
var ErrInvalidClass = errors.New("admission: unknown usage class")

// Config sizes each class's concurrency budget. Field names mirror
// spec.md §6's configuration keys.
type Config struct {
	StreamingReserved   int64 // usenet.total-streaming-connections
	QueueReserved       int64 // api.max-queue-connections
	HealthCheckReserved int64 // repair.connections
	// PlaybackVerifiedShare is the fraction (0,1] of StreamingReserved
	// reserved for UsagePlaybackVerified sessions; default 0.5 per
	// spec.md §4.8.
	PlaybackVerifiedShare float64
}

func (c Config) withDefaults() Config {
	if c.StreamingReserved <= 0 {
		c.StreamingReserved = 20
	}
	if c.QueueReserved <= 0 {
		c.QueueReserved = 5
	}
	if c.HealthCheckReserved <= 0 {
		c.HealthCheckReserved = 5
	}
	if c.PlaybackVerifiedShare <= 0 {
		c.PlaybackVerifiedShare = 0.5
	}
	return c
}

// Controller implements internal/nntp.Admitter. It treats usage kinds
// as opaque enum values per spec.md §4.8 — classification is entirely
// the caller's (the streaming-monitor gate's) responsibility.
type Controller struct {
	cfg Config

	// streaming is sized to StreamingReserved minus the verified
	// sub-quota, so it can never be exhausted by ordinary traffic down
	// to zero room for verified sessions: the two semaphores partition
	// StreamingReserved rather than overlap.
	streaming   *semaphore.Weighted
	verified    *semaphore.Weighted // reserved sub-quota, isolated from streaming
	queue       *semaphore.Weighted
	healthcheck *semaphore.Weighted
}

// New constructs a Controller from cfg.
func New(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	verifiedQuota := int64(float64(cfg.StreamingReserved) * cfg.PlaybackVerifiedShare)
	if verifiedQuota < 1 {
		verifiedQuota = 1
	}
	ordinaryQuota := cfg.StreamingReserved - verifiedQuota
	if ordinaryQuota < 0 {
		ordinaryQuota = 0
	}
	return &Controller{
		cfg:         cfg,
		streaming:   semaphore.NewWeighted(ordinaryQuota),
		verified:    semaphore.NewWeighted(verifiedQuota),
		queue:       semaphore.NewWeighted(cfg.QueueReserved),
		healthcheck: semaphore.NewWeighted(cfg.HealthCheckReserved),
	}
}

// Acquire blocks (cooperatively, honoring ctx) until kind's class has a
// free slot, then returns a release func. This satisfies
// internal/nntp.Admitter; kind is an nntp.UsageKind smuggled through
// the narrow interface as an int so internal/nntp need not import this
// package.
func (c *Controller) Acquire(ctx context.Context, kind int) (func(), error) {
	switch nntp.UsageKind(kind) {
	case nntp.UsageStreaming:
		if err := c.streaming.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { c.streaming.Release(1) }, nil

	case nntp.UsagePlaybackVerified:
		// Verified sessions draw only from their own reserved sub-quota,
		// never the ordinary-streaming semaphore, so heavy unverified
		// streaming traffic can never leave zero room for a verified
		// session: the two budgets are isolated, not shared.
		if err := c.verified.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { c.verified.Release(1) }, nil

	case nntp.UsageQueue:
		if err := c.queue.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { c.queue.Release(1) }, nil

	case nntp.UsageHealthCheck:
		if err := c.healthcheck.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		return func() { c.healthcheck.Release(1) }, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidClass, kind)
	}
}
