package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemStore_WriteAndOpen(t *testing.T) {
	t.Run("finalized blob round-trips", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		w, err := store.NewWriter("abc123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := w.Write([]byte("test content")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		n, err := w.Finalize()
		if err != nil {
			t.Fatalf("finalize failed: %v", err)
		}
		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}

		r, err := store.Open("abc123")
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		defer r.Close()

		content, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("blob is invisible before finalize", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		w, err := store.NewWriter("pending1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		w.Write([]byte("partial"))

		if _, err := store.Open("pending1"); err == nil {
			t.Error("expected error opening unfinalized blob")
		}
		w.Abort()
	})

	t.Run("writes large content in pieces", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		w, err := store.NewWriter("large")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		piece := []byte(strings.Repeat("x", 64*1024))
		for i := 0; i < 16; i++ { // 1MB total
			if _, err := w.Write(piece); err != nil {
				t.Fatalf("write failed: %v", err)
			}
		}
		n, err := w.Finalize()
		if err != nil {
			t.Fatalf("finalize failed: %v", err)
		}
		if n != int64(16*len(piece)) {
			t.Errorf("expected %d bytes, got %d", 16*len(piece), n)
		}
	})
}

func TestFileSystemStore_Abort(t *testing.T) {
	t.Run("abort removes partial bytes", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		w, err := store.NewWriter("aborted")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		w.Write([]byte("doomed"))

		if err := w.Abort(); err != nil {
			t.Fatalf("abort failed: %v", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Errorf("expected empty storage dir after abort, found %d entries", len(entries))
		}
	})

	t.Run("abort after finalize is a no-op", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		w, _ := store.NewWriter("done")
		w.Write([]byte("data"))
		if _, err := w.Finalize(); err != nil {
			t.Fatalf("finalize failed: %v", err)
		}
		if err := w.Abort(); err != nil {
			t.Errorf("abort after finalize should be nil, got %v", err)
		}
		if _, err := store.Open("done"); err != nil {
			t.Errorf("finalized blob should survive abort: %v", err)
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		w, _ := store.NewWriter("del123")
		w.Write([]byte("data"))
		if _, err := w.Finalize(); err != nil {
			t.Fatalf("finalize failed: %v", err)
		}

		if err := store.Delete("del123"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := os.Stat(filepath.Join(dir, "del123.bin")); !os.IsNotExist(err) {
			t.Error("expected blob to be deleted")
		}
	})

	t.Run("no error for missing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if err := store.Delete("nonexistent"); err != nil {
			t.Errorf("expected no error for missing blob, got: %v", err)
		}
	})
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
