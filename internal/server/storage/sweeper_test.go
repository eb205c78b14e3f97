package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relay/internal/server/registry"
)

func readyTransfer(t *testing.T, reg *registry.Memory, store Store, ttl time.Duration) (id, code string) {
	t.Helper()
	ctx := context.Background()

	id, err := reg.CreatePending(ctx)
	if err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	w, err := store.NewWriter(id)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	w.Write([]byte("payload"))
	if _, err := w.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	code, err = reg.Finalize(ctx, id, registry.FinalizeParams{
		Name:         "a.txt",
		ContentType:  "text/plain",
		Size:         7,
		TTL:          ttl,
		MaxDownloads: 1,
	})
	if err != nil {
		t.Fatalf("registry Finalize failed: %v", err)
	}
	return id, code
}

func TestSweeper_RunSweep(t *testing.T) {
	t.Run("releases expired transfers", func(t *testing.T) {
		dir := t.TempDir()
		reg := registry.NewMemory()
		store := NewFileSystemStore(dir)
		sweeper := NewSweeper(reg, store, time.Hour)

		id, code := readyTransfer(t, reg, store, -time.Minute)

		sweeper.RunSweep(context.Background())

		if _, err := os.Stat(filepath.Join(dir, id+".bin")); !os.IsNotExist(err) {
			t.Error("expected blob to be removed")
		}
		if _, err := reg.Resolve(context.Background(), code); !errors.Is(err, registry.ErrNotFound) {
			t.Errorf("expected ErrNotFound after sweep, got %v", err)
		}
	})

	t.Run("releases consumed transfers", func(t *testing.T) {
		dir := t.TempDir()
		reg := registry.NewMemory()
		store := NewFileSystemStore(dir)
		sweeper := NewSweeper(reg, store, time.Hour)

		id, code := readyTransfer(t, reg, store, time.Hour)
		if _, err := reg.Consume(context.Background(), code); err != nil {
			t.Fatalf("Consume failed: %v", err)
		}

		sweeper.RunSweep(context.Background())

		if _, err := os.Stat(filepath.Join(dir, id+".bin")); !os.IsNotExist(err) {
			t.Error("expected blob to be removed")
		}
	})

	t.Run("leaves live transfers alone", func(t *testing.T) {
		dir := t.TempDir()
		reg := registry.NewMemory()
		store := NewFileSystemStore(dir)
		sweeper := NewSweeper(reg, store, time.Hour)

		id, code := readyTransfer(t, reg, store, time.Hour)

		sweeper.RunSweep(context.Background())

		if _, err := os.Stat(filepath.Join(dir, id+".bin")); err != nil {
			t.Errorf("live blob should survive sweep: %v", err)
		}
		if _, err := reg.Resolve(context.Background(), code); err != nil {
			t.Errorf("live record should survive sweep: %v", err)
		}
	})
}

func TestSweeper_StartStop(t *testing.T) {
	dir := t.TempDir()
	reg := registry.NewMemory()
	store := NewFileSystemStore(dir)
	sweeper := NewSweeper(reg, store, 10*time.Millisecond)

	_, code := readyTransfer(t, reg, store, -time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if _, err := reg.Resolve(context.Background(), code); errors.Is(err, registry.ErrNotFound) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not clean up expired transfer in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	sweeper.Wait()
}
