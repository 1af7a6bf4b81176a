package affinity

import (
	"testing"
	"time"

	"github.com/javi11/usenetstream/internal/nntp"
)

func providers() []nntp.ProviderConfig {
	return []nntp.ProviderConfig{
		{Index: 1, Host: "a", Role: nntp.RolePool},
		{Index: 2, Host: "b", Role: nntp.RolePool},
	}
}

func TestOrderRanksByRecordedSpeed(t *testing.T) {
	t.Parallel()

	s := New(nil)
	usage := nntp.UsageContext{AffinityKey: "job-1"}

	// Provider 2 is consistently faster and always succeeds; provider 1
	// is slower. Record enough samples that exploration's 1/32 chance
	// can't plausibly flip every repeated check.
	for i := 0; i < 8; i++ {
		s.RecordFetch(1, "job-1", 1_000_000, 2*time.Second, nil)
		s.RecordFetch(2, "job-1", 1_000_000, 200*time.Millisecond, nil)
	}

	// Exploration swaps the top two candidates ~1/32 of the time, so
	// assert on the common case across repeated orderings rather than a
	// single call.
	var firstCount int
	const trials = 50
	for i := 0; i < trials; i++ {
		ranked := s.Order(providers(), usage)
		if len(ranked) != 2 {
			t.Fatalf("expected 2 ranked providers, got %d", len(ranked))
		}
		if ranked[0].Index == 2 {
			firstCount++
		}
	}
	if firstCount < trials/2 {
		t.Fatalf("expected provider 2 (faster) ranked first in most of %d trials, got %d", trials, firstCount)
	}
}

type fakeAvail struct {
	unavailable map[int]bool
}

func (f fakeAvail) Available(idx int) bool { return !f.unavailable[idx] }

func TestOrderPushesUnavailableProvidersToBack(t *testing.T) {
	t.Parallel()

	avail := fakeAvail{unavailable: map[int]bool{1: true}}
	s := New(avail)
	usage := nntp.UsageContext{AffinityKey: "job-2"}

	// Provider 1 would otherwise rank first (faster), but its circuit is
	// open, so sortScored places it behind provider 2 whatever the scores
	// (it only compares scores within the same availability bucket). The
	// exploration swap of the top two still puts it first in some trials,
	// so the check below asks for a majority only.
	s.RecordFetch(1, "job-2", 1_000_000, 100*time.Millisecond, nil)
	s.RecordFetch(2, "job-2", 1_000_000, time.Second, nil)

	var firstCount int
	const trials = 50
	for i := 0; i < trials; i++ {
		ranked := s.Order(providers(), usage)
		if ranked[0].Index == 2 {
			firstCount++
		}
	}
	if firstCount < trials/2 {
		t.Fatalf("expected available provider 2 ranked first in most of %d trials, got %d", trials, firstCount)
	}
}

func TestOrderExcludesDisabledProviders(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ps := []nntp.ProviderConfig{
		{Index: 1, Role: nntp.RolePool},
		{Index: 2, Role: nntp.RoleDisabled},
	}
	ranked := s.Order(ps, nntp.UsageContext{})
	if len(ranked) != 1 || ranked[0].Index != 1 {
		t.Fatalf("expected only the non-disabled provider, got %+v", ranked)
	}
}

func TestOrderTiersPoolBeforeBackup(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ps := []nntp.ProviderConfig{
		{Index: 1, Role: nntp.RoleBackupOnly},
		{Index: 2, Role: nntp.RolePool},
		{Index: 3, Role: nntp.RoleBackupAndStats},
	}
	ranked := s.Order(ps, nntp.UsageContext{})
	if len(ranked) != 3 {
		t.Fatalf("expected all 3 non-disabled providers, got %d", len(ranked))
	}
	if ranked[0].Index != 2 {
		t.Fatalf("expected Pool-tier provider first, got %d", ranked[0].Index)
	}
	if ranked[1].Index != 3 || ranked[2].Index != 1 {
		t.Fatalf("expected BackupAndStats before BackupOnly, got order %+v", ranked)
	}
}

func TestClearJobAndClearAll(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.RecordFetch(1, "job-3", 100, time.Millisecond, nil)
	if s.jobs.Len() != 1 {
		t.Fatalf("expected one tracked job, got %d", s.jobs.Len())
	}

	s.ClearJob("job-3")
	if s.jobs.Len() != 0 {
		t.Fatalf("expected ClearJob to remove the job, len=%d", s.jobs.Len())
	}

	s.RecordFetch(1, "job-4", 100, time.Millisecond, nil)
	s.RecordFetch(1, "job-5", 100, time.Millisecond, nil)
	s.ClearAll()
	if s.jobs.Len() != 0 {
		t.Fatalf("expected ClearAll to purge all jobs, len=%d", s.jobs.Len())
	}
}
