package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobWriter receives one upload sequentially. Exactly one of Finalize or
// Abort must be called: Finalize makes the blob visible to Open, Abort
// removes the partial bytes.
type BlobWriter interface {
	io.Writer
	Finalize() (int64, error)
	Abort() error
}

// Store defines the interface for blob storage backends. Blobs are keyed
// by internal id only; user-supplied filenames never reach the backend.
// This allows swapping filesystem for S3 or other backends later.
type Store interface {
	NewWriter(id string) (BlobWriter, error)
	Open(id string) (io.ReadCloser, error)
	Delete(id string) error
	EnsureDir() error
}

// FileSystemStore stores blobs on the local filesystem. Uploads land in a
// .part file and are renamed into place on Finalize, so a crash mid-write
// never leaves a blob that Open can see.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// NewWriter opens a partial file for a new blob.
func (fs *FileSystemStore) NewWriter(id string) (BlobWriter, error) {
	partPath := fs.partPath(id)
	file, err := os.Create(partPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", partPath, err)
	}
	return &fileWriter{
		file:      file,
		partPath:  partPath,
		finalPath: fs.blobPath(id),
	}, nil
}

// Open returns a reader over a finalized blob.
func (fs *FileSystemStore) Open(id string) (io.ReadCloser, error) {
	file, err := os.Open(fs.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found for transfer %s", id)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return file, nil
}

// Delete removes the blob for a transfer. A missing blob is not an error.
func (fs *FileSystemStore) Delete(id string) error {
	if err := os.Remove(fs.blobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", id, err)
	}
	// A stray partial from an aborted upload goes with it.
	if err := os.Remove(fs.partPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete partial blob %s: %w", id, err)
	}
	return nil
}

func (fs *FileSystemStore) blobPath(id string) string {
	return filepath.Join(fs.basePath, id+".bin")
}

func (fs *FileSystemStore) partPath(id string) string {
	return filepath.Join(fs.basePath, id+".part")
}

type fileWriter struct {
	file      *os.File
	partPath  string
	finalPath string
	written   int64
	closed    bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("failed to write blob: %w", err)
	}
	return n, nil
}

func (w *fileWriter) Finalize() (int64, error) {
	if w.closed {
		return 0, fmt.Errorf("blob writer already closed")
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.partPath)
		return 0, fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.partPath)
		return 0, fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(w.partPath, w.finalPath); err != nil {
		os.Remove(w.partPath)
		return 0, fmt.Errorf("failed to finalize blob: %w", err)
	}
	return w.written, nil
}

func (w *fileWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.file.Close()
	if err := os.Remove(w.partPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial blob: %w", err)
	}
	return nil
}
