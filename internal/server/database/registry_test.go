package database

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"relay/internal/server/registry"
)

// These tests need a real postgres instance and are skipped unless
// TEST_DATABASE_URL is set, e.g.
//
//	TEST_DATABASE_URL=postgres://localhost/relay_test go test ./internal/server/database
func testRegistry(t *testing.T) *Registry {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.RunMigrations(ctx); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if _, err := db.Pool.Exec(ctx, "TRUNCATE transfers"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	return NewRegistry(db)
}

func finalize(t *testing.T, reg *Registry, budget int, ttl time.Duration) string {
	t.Helper()

	ctx := context.Background()
	id, err := reg.CreatePending(ctx)
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
	code, err := reg.Finalize(ctx, id, registry.FinalizeParams{
		Name:         "report.pdf",
		ContentType:  "application/pdf",
		Size:         2048,
		Digest:       "abc123",
		TTL:          ttl,
		MaxDownloads: budget,
	})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return code
}

func TestPostgresFinalizeRejectsInvalidBudget(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	id, err := reg.CreatePending(ctx)
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	for _, budget := range []int{0, -1} {
		_, err := reg.Finalize(ctx, id, registry.FinalizeParams{
			TTL:          time.Hour,
			MaxDownloads: budget,
		})
		if !errors.Is(err, registry.ErrInvalidBudget) {
			t.Errorf("Finalize with budget %d: expected ErrInvalidBudget, got %v", budget, err)
		}
	}
}

func TestPostgresLifecycle(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code := finalize(t, reg, 1, time.Hour)

	rec, err := reg.Resolve(ctx, code)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.OriginalName != "report.pdf" || rec.Size != 2048 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.State != registry.StateReady {
		t.Errorf("State = %q, want ready", rec.State)
	}

	// Resolve does not touch the budget.
	rec, err = reg.Resolve(ctx, code)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if rec.DownloadsRemaining != 1 {
		t.Errorf("DownloadsRemaining = %d after Resolve, want 1", rec.DownloadsRemaining)
	}

	rec, err = reg.Consume(ctx, code)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if rec.DownloadsRemaining != 0 || rec.State != registry.StateConsumed {
		t.Errorf("after consume: remaining=%d state=%q", rec.DownloadsRemaining, rec.State)
	}

	if _, err := reg.Consume(ctx, code); !errors.Is(err, registry.ErrConsumed) {
		t.Errorf("second Consume = %v, want ErrConsumed", err)
	}
	if _, err := reg.Resolve(ctx, code); !errors.Is(err, registry.ErrConsumed) {
		t.Errorf("Resolve after consume = %v, want ErrConsumed", err)
	}
}

func TestPostgresConsumeConcurrent(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code := finalize(t, reg, 1, time.Hour)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Consume(ctx, code); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("%d consumers succeeded against a budget of 1", got)
	}
}

func TestPostgresExpiry(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code := finalize(t, reg, 1, -time.Minute)

	if _, err := reg.Resolve(ctx, code); !errors.Is(err, registry.ErrExpired) {
		t.Errorf("Resolve = %v, want ErrExpired", err)
	}
	if _, err := reg.Consume(ctx, code); !errors.Is(err, registry.ErrExpired) {
		t.Errorf("Consume = %v, want ErrExpired", err)
	}
}

func TestPostgresSweepAndDelete(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	expired := finalize(t, reg, 1, -time.Minute)
	live := finalize(t, reg, 1, time.Hour)

	dead, err := reg.SweepExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("swept %d records, want 1", len(dead))
	}
	if registry.NormalizeCode(dead[0].Code) != registry.NormalizeCode(expired) {
		t.Errorf("swept code %q, want %q", dead[0].Code, expired)
	}

	if err := reg.Delete(ctx, dead[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Idempotent.
	if err := reg.Delete(ctx, dead[0].ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}

	if _, err := reg.Resolve(ctx, expired); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Resolve deleted = %v, want ErrNotFound", err)
	}
	if _, err := reg.Resolve(ctx, live); err != nil {
		t.Errorf("Resolve live after sweep: %v", err)
	}
}

func TestPostgresDeleteCode(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	code := finalize(t, reg, 5, time.Hour)

	rec, err := reg.DeleteCode(ctx, code)
	if err != nil {
		t.Fatalf("DeleteCode: %v", err)
	}
	if rec.ID == "" {
		t.Error("DeleteCode returned empty id")
	}

	if _, err := reg.Resolve(ctx, code); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Resolve after delete = %v, want ErrNotFound", err)
	}
	if _, err := reg.DeleteCode(ctx, code); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("second DeleteCode = %v, want ErrNotFound", err)
	}
}

func TestPostgresStats(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	finalize(t, reg, 1, time.Hour)
	code := finalize(t, reg, 2, time.Hour)
	if _, err := reg.Consume(ctx, code); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	stats, err := reg.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalTransfers != 2 {
		t.Errorf("TotalTransfers = %d, want 2", stats.TotalTransfers)
	}
	if stats.ActiveTransfers != 2 {
		t.Errorf("ActiveTransfers = %d, want 2", stats.ActiveTransfers)
	}
	if stats.DownloadsServed != 1 {
		t.Errorf("DownloadsServed = %d, want 1", stats.DownloadsServed)
	}
	if stats.BytesStored != 4096 {
		t.Errorf("BytesStored = %d, want 4096", stats.BytesStored)
	}
}
