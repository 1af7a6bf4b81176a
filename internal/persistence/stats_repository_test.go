package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := New(Config{DSN: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertAndListProviderStats(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	stat := ProviderStat{
		JobKey:             "movie.mkv",
		ProviderIndex:      0,
		SuccessfulSegments: 10,
		FailedSegments:     1,
		TotalBytes:         1024,
		RecentSpeedBps:     512,
		LastUsed:           time.Now().UTC().Truncate(time.Second),
	}
	if err := db.Repository.UpsertProviderStat(ctx, stat); err != nil {
		t.Fatalf("UpsertProviderStat: %v", err)
	}

	got, err := db.Repository.ListProviderStats(ctx, "movie.mkv")
	if err != nil {
		t.Fatalf("ListProviderStats: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 stat, got %d", len(got))
	}
	if got[0].SuccessfulSegments != 10 || got[0].FailedSegments != 1 {
		t.Fatalf("got %+v", got[0])
	}
}

func TestUpsertProviderStatOverwritesPreviousValue(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	base := ProviderStat{JobKey: "movie.mkv", ProviderIndex: 1, SuccessfulSegments: 1}
	if err := db.Repository.UpsertProviderStat(ctx, base); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	base.SuccessfulSegments = 99
	if err := db.Repository.UpsertProviderStat(ctx, base); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := db.Repository.ListProviderStats(ctx, "movie.mkv")
	if err != nil {
		t.Fatalf("ListProviderStats: %v", err)
	}
	if len(got) != 1 || got[0].SuccessfulSegments != 99 {
		t.Fatalf("expected latest-write-wins overwrite, got %+v", got)
	}
}

func TestListProviderStatsIsolatedByJobKey(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	_ = db.Repository.UpsertProviderStat(ctx, ProviderStat{JobKey: "a.mkv", ProviderIndex: 0})
	_ = db.Repository.UpsertProviderStat(ctx, ProviderStat{JobKey: "b.mkv", ProviderIndex: 0})

	got, err := db.Repository.ListProviderStats(ctx, "a.mkv")
	if err != nil {
		t.Fatalf("ListProviderStats: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected stats for a.mkv only, got %d", len(got))
	}
}

func TestSaveAndLoadCircuitStates(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	st := CircuitState{
		ProviderIndex:       2,
		State:               "open",
		ConsecutiveFailures: 5,
		OpenedAt:            sql.NullTime{Time: time.Now().UTC().Truncate(time.Second), Valid: true},
	}
	if err := db.Repository.SaveCircuitState(ctx, st); err != nil {
		t.Fatalf("SaveCircuitState: %v", err)
	}

	states, err := db.Repository.LoadCircuitStates(ctx)
	if err != nil {
		t.Fatalf("LoadCircuitStates: %v", err)
	}
	got, ok := states[2]
	if !ok {
		t.Fatalf("expected provider 2's circuit state to be persisted")
	}
	if got.State != "open" || got.ConsecutiveFailures != 5 {
		t.Fatalf("got %+v", got)
	}
}

func TestSaveCircuitStateOverwritesOnReopen(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	_ = db.Repository.SaveCircuitState(ctx, CircuitState{ProviderIndex: 0, State: "open", ConsecutiveFailures: 5})
	_ = db.Repository.SaveCircuitState(ctx, CircuitState{ProviderIndex: 0, State: "closed", ConsecutiveFailures: 0})

	states, err := db.Repository.LoadCircuitStates(ctx)
	if err != nil {
		t.Fatalf("LoadCircuitStates: %v", err)
	}
	if states[0].State != "closed" || states[0].ConsecutiveFailures != 0 {
		t.Fatalf("got %+v", states[0])
	}
}
