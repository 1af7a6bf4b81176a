package bandwidth

import (
	"errors"
	"testing"
	"time"
)

func TestRecordFetchAccumulatesBytes(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordFetch(1, "job", 1000, 10*time.Millisecond, nil)
	m.RecordFetch(1, "job", 2000, 10*time.Millisecond, nil)

	snap := m.Snapshot(1)
	if snap.BytesTransferred != 3000 {
		t.Fatalf("expected 3000 bytes transferred, got %d", snap.BytesTransferred)
	}
	if snap.ArticlesFetched != 2 {
		t.Fatalf("expected 2 articles fetched, got %d", snap.ArticlesFetched)
	}
}

func TestRecordFetchCountsErrorsSeparately(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordFetch(1, "job", 500, time.Millisecond, nil)
	m.RecordFetch(1, "job", 0, time.Millisecond, errors.New("boom"))

	snap := m.Snapshot(1)
	if snap.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", snap.Errors)
	}
	if snap.BytesTransferred != 500 {
		t.Fatalf("a failed fetch must not contribute bytes, got %d", snap.BytesTransferred)
	}
}

func TestSnapshotUnknownProviderIsZeroValued(t *testing.T) {
	t.Parallel()

	m := New()
	snap := m.Snapshot(42)
	if snap.BytesTransferred != 0 || snap.ArticlesFetched != 0 || snap.Errors != 0 {
		t.Fatalf("expected a zero-valued snapshot for an unrecorded provider, got %+v", snap)
	}
}

func TestSnapshotAllListsEveryRecordedProvider(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordFetch(1, "job", 100, time.Millisecond, nil)
	m.RecordFetch(2, "job", 200, time.Millisecond, nil)

	snaps := m.SnapshotAll()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
}

func TestResetClearsAllCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordFetch(1, "job", 100, time.Millisecond, nil)
	m.Reset()

	snap := m.Snapshot(1)
	if snap.BytesTransferred != 0 {
		t.Fatalf("expected Reset to clear accumulated bytes, got %d", snap.BytesTransferred)
	}
}
