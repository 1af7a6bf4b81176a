package streamgate

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/javi11/usenetstream/internal/nntp"
)

// Status mirrors the "Buffering"/"Streaming"/"Stalled" strings the
// teacher's ActiveStream.Status field carried, as a typed enum.
type Status string

const (
	StatusBuffering Status = "Buffering"
	StatusStreaming Status = "Streaming"
	StatusStalled   Status = "Stalled"
)

// verifiedThresholdBytes is how much of a file must have been
// consumed, contiguously from the start of playback, before a session
// is trusted as genuinely playing rather than a player doing a
// speculative open-then-abandon (common with some media scanners).
const verifiedThresholdBytes = 4 * 1024 * 1024

// stalledAfter is how long without progress before a session is
// considered stalled and demoted out of PlaybackVerified.
const stalledAfter = 10 * time.Second

// Tracker implements streamgate's StreamTracker, the same contract the
// teacher's virtual filesystem layer consumed, and additionally
// decides each tracked stream's nntp.UsageKind for the gate.
type Tracker struct {
	mu      sync.Mutex
	streams map[string]*ActiveStream
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{streams: make(map[string]*ActiveStream)}
}

// Add registers a newly opened stream and returns its id. Satisfies
// StreamTracker.
func (t *Tracker) Add(filePath, source, userName, clientIP, userAgent string, totalSize int64) string {
	id := uuid.NewString()
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.streams[id] = &ActiveStream{
		ID:           id,
		FilePath:     normalizePath(filePath),
		StartedAt:    now,
		LastActivity: now,
		Source:       source,
		UserName:     userName,
		ClientIP:     clientIP,
		UserAgent:    userAgent,
		TotalSize:    totalSize,
		Status:       string(StatusBuffering),
	}
	return id
}

// UpdateProgress records that bytesRead more bytes have been delivered
// to the caller since the last update. Satisfies StreamTracker.
func (t *Tracker) UpdateProgress(id string, bytesRead int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.streams[id]
	if !ok {
		return
	}

	now := time.Now()
	elapsed := now.Sub(s.LastActivity).Seconds()
	s.BytesSent += bytesRead
	s.CurrentOffset += bytesRead
	if elapsed > 0 {
		s.BytesPerSecond = int64(float64(bytesRead) / elapsed)
	}
	s.LastActivity = now

	switch {
	case s.CurrentOffset >= verifiedThresholdBytes:
		s.Status = string(StatusStreaming)
	default:
		s.Status = string(StatusBuffering)
	}
}

// UpdateBufferedOffset records how far ahead the prefetcher has
// materialized bytes, independent of how far the consumer has read.
// Satisfies StreamTracker.
func (t *Tracker) UpdateBufferedOffset(id string, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.streams[id]; ok {
		s.BufferedOffset = offset
	}
}

// Remove discards a stream's tracking state on close. Satisfies
// StreamTracker.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, id)
}

// UsageKind reports the nntp.UsageKind a fetch on behalf of id should
// use: UsagePlaybackVerified once the session has sustained enough
// contiguous consumption to be trusted, demoting back to
// UsageStreaming if progress has stalled, and UsageStreaming for
// anything still buffering or unknown.
func (t *Tracker) UsageKind(id string) nntp.UsageKind {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.streams[id]
	if !ok {
		return nntp.UsageStreaming
	}

	if time.Since(s.LastActivity) > stalledAfter {
		s.Status = string(StatusStalled)
		return nntp.UsageStreaming
	}
	if s.CurrentOffset >= verifiedThresholdBytes {
		return nntp.UsagePlaybackVerified
	}
	return nntp.UsageStreaming
}

// Snapshot returns a copy of every tracked stream's current state, for
// the out-of-core metadata endpoints spec.md §6 names as consumers.
func (t *Tracker) Snapshot() []ActiveStream {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ActiveStream, 0, len(t.streams))
	for _, s := range t.streams {
		out = append(out, *s)
	}
	return out
}
