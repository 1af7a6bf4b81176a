package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/javi11/usenetstream/internal/health"
	"github.com/javi11/usenetstream/internal/nntp"
)

type fakeConn struct{}

func (fakeConn) Stat(msgID string) (nntp.ArticleStatus, error) { return nntp.StatusOK, nil }
func (fakeConn) Body(msgID string, w io.Writer) (nntp.ArticleStatus, error) {
	return nntp.StatusOK, nil
}

type fakePool struct{}

func (fakePool) Providers() []nntp.ProviderConfig { return []nntp.ProviderConfig{{Index: 0}} }
func (fakePool) Borrow(ctx context.Context, providerIdx int) (health.Conn, error) {
	return fakeConn{}, nil
}
func (fakePool) Release(conn health.Conn) {}

type recordingSink struct {
	mu      sync.Mutex
	reports []health.Result
}

func (s *recordingSink) ReportHealth(job Job, result health.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, result)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsSweepOnEachTick(t *testing.T) {
	sink := &recordingSink{}
	sched := NewScheduler(fakePool{}, health.Config{SamplePercentage: 100}, sink, discardLogger())
	sched.SetJobs([]Job{{Key: "a.mkv", SegmentIDs: []string{"1", "2", "3"}, ProviderIdx: 0}})

	if err := sched.Start("@every 50ms"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.reports)
		sink.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected at least one sweep report within the deadline")
}

func TestSchedulerRunSweepDirectlyReportsOK(t *testing.T) {
	sink := &recordingSink{}
	sched := NewScheduler(fakePool{}, health.Config{SamplePercentage: 100}, sink, discardLogger())
	sched.SetJobs([]Job{{Key: "a.mkv", SegmentIDs: []string{"1", "2"}, ProviderIdx: 0}})

	sched.runSweep()

	if len(sink.reports) != 1 || !sink.reports[0].OK {
		t.Fatalf("expected one OK report, got %+v", sink.reports)
	}
}
