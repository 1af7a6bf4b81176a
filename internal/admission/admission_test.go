package admission

import (
	"context"
	"testing"
	"time"

	"github.com/javi11/usenetstream/internal/nntp"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	t.Parallel()

	c := New(Config{StreamingReserved: 2, QueueReserved: 1, HealthCheckReserved: 1})
	release, err := c.Acquire(context.Background(), int(nntp.UsageStreaming))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	t.Parallel()

	c := New(Config{StreamingReserved: 1, QueueReserved: 1, HealthCheckReserved: 1})
	release1, err := c.Acquire(context.Background(), int(nntp.UsageQueue))
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx, int(nntp.UsageQueue))
	if err == nil {
		t.Fatalf("expected second queue acquire to block until timeout")
	}

	release1()
}

func TestUnknownClassRejected(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	_, err := c.Acquire(context.Background(), 999)
	if err == nil {
		t.Fatalf("expected an error for an unrecognized usage class")
	}
}

func TestPlaybackVerifiedBlocksWhenSubQuotaExhausted(t *testing.T) {
	t.Parallel()

	// StreamingReserved=4, share=0.5 -> verified quota = 2.
	c := New(Config{StreamingReserved: 4, PlaybackVerifiedShare: 0.5})

	var releases []func()
	for i := 0; i < 2; i++ {
		release, err := c.Acquire(context.Background(), int(nntp.UsagePlaybackVerified))
		if err != nil {
			t.Fatalf("verified acquire %d: %v", i, err)
		}
		releases = append(releases, release)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx, int(nntp.UsagePlaybackVerified)); err == nil {
		t.Fatalf("expected a third verified acquire to block once the 2-slot sub-quota is exhausted")
	}

	for _, r := range releases {
		r()
	}
}

func TestOrdinaryStreamingCannotStarveVerified(t *testing.T) {
	t.Parallel()

	// StreamingReserved=4, share=0.5 -> verified quota = 2, leaving an
	// ordinary-streaming quota of 2. Exhausting ordinary streaming must
	// not block a verified acquire.
	c := New(Config{StreamingReserved: 4, PlaybackVerifiedShare: 0.5})

	var ordinaryReleases []func()
	for i := 0; i < 2; i++ {
		release, err := c.Acquire(context.Background(), int(nntp.UsageStreaming))
		if err != nil {
			t.Fatalf("ordinary streaming acquire %d: %v", i, err)
		}
		ordinaryReleases = append(ordinaryReleases, release)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx, int(nntp.UsageStreaming)); err == nil {
		t.Fatalf("expected ordinary-streaming quota to be exhausted")
	}

	release, err := c.Acquire(context.Background(), int(nntp.UsagePlaybackVerified))
	if err != nil {
		t.Fatalf("expected verified acquire to succeed despite exhausted ordinary-streaming quota: %v", err)
	}
	release()

	for _, r := range ordinaryReleases {
		r()
	}
}

func TestCancelledAcquireFreesNoSlot(t *testing.T) {
	t.Parallel()

	c := New(Config{QueueReserved: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Acquire(ctx, int(nntp.UsageQueue)); err == nil {
		t.Fatalf("expected acquire on an already-cancelled context to fail")
	}

	// The slot must still be free for a subsequent acquire.
	release, err := c.Acquire(context.Background(), int(nntp.UsageQueue))
	if err != nil {
		t.Fatalf("expected the queue slot to remain available: %v", err)
	}
	release()
}
