package segment

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/javi11/usenetstream/internal/nntp"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	payload map[string][]byte
	fail    map[string]error
	delay   time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, msgID string, usage nntp.UsageContext) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.fail[msgID]; ok {
		return nil, err
	}
	return f.payload[msgID], nil
}

func segIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	return ids
}

func TestReadReturnsSegmentsInOrder(t *testing.T) {
	t.Parallel()

	ids := segIDs(3)
	ff := &fakeFetcher{payload: map[string][]byte{
		"a": []byte("111"),
		"b": []byte("222"),
		"c": []byte("333"),
	}}
	sizes := []int64{3, 3, 3}
	p := New(context.Background(), ff, ids, sizes, nntp.UsageContext{}, Config{ConnectionsBudget: 2}, nil)
	defer p.Close()

	buf := make([]byte, 9)
	n, err := io.ReadFull(p, buf)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if n != 9 || string(buf) != "111222333" {
		t.Fatalf("expected concatenated segments in order, got %q", buf)
	}

	if _, err := p.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected io.EOF after exhausting all segments, got %v", err)
	}
}

func TestSeekJumpsToTargetSegment(t *testing.T) {
	t.Parallel()

	ids := segIDs(3)
	ff := &fakeFetcher{payload: map[string][]byte{
		"a": []byte("111"),
		"b": []byte("222"),
		"c": []byte("333"),
	}}
	sizes := []int64{3, 3, 3}
	p := New(context.Background(), ff, ids, sizes, nntp.UsageContext{}, Config{ConnectionsBudget: 2}, nil)
	defer p.Close()

	if err := p.Seek(4); err != nil {
		t.Fatalf("seek: %v", err)
	}
	buf := make([]byte, 5)
	n, err := io.ReadFull(p, buf)
	if err != nil {
		t.Fatalf("ReadFull after seek: %v", err)
	}
	if n != 5 || string(buf) != "22333" {
		t.Fatalf("expected bytes starting at offset 4, got %q", buf)
	}
}

func TestNonSeekableWithoutSizeHints(t *testing.T) {
	t.Parallel()

	ids := segIDs(2)
	ff := &fakeFetcher{payload: map[string][]byte{"a": []byte("11"), "b": []byte("22")}}
	p := New(context.Background(), ff, ids, nil, nntp.UsageContext{}, Config{}, nil)
	defer p.Close()

	if p.Seekable() {
		t.Fatalf("expected stream to be non-seekable without declared sizes")
	}
	if err := p.Seek(1); !errors.Is(err, ErrNotSeekable) {
		t.Fatalf("expected ErrNotSeekable, got %v", err)
	}
}

func TestFetchErrorSurfacesOnRead(t *testing.T) {
	t.Parallel()

	ids := segIDs(1)
	wantErr := errors.New("article missing")
	ff := &fakeFetcher{fail: map[string]error{"a": wantErr}}
	p := New(context.Background(), ff, ids, []int64{5}, nntp.UsageContext{}, Config{}, nil)
	defer p.Close()

	_, err := p.Read(make([]byte, 1))
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error to surface, got %v", err)
	}
}

func TestCloseUnblocksInFlightFetches(t *testing.T) {
	t.Parallel()

	ids := segIDs(1)
	ff := &fakeFetcher{delay: time.Second, payload: map[string][]byte{"a": []byte("x")}}
	p := New(context.Background(), ff, ids, []int64{1}, nntp.UsageContext{}, Config{}, nil)

	done := make(chan struct{})
	go func() {
		_ = p.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return promptly after cancelling in-flight fetches")
	}
}
