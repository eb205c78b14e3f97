package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Stream is a finite, single-pass chunk sequence over a stored blob.
// It is restartable only via a fresh Download call. The consumer may stop
// at any chunk boundary; Close always releases the file handle and the
// source blob is never modified by a read.
type Stream struct {
	ctx       context.Context
	src       io.ReadCloser
	chunkSize int
	onDone    func(completed bool)

	mu     sync.Mutex
	eof    bool
	closed bool
}

// Read yields at most one chunk per call and fails fast once the
// originating request is gone.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > s.chunkSize {
		p = p[:s.chunkSize]
	}

	n, err := s.src.Read(p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.mu.Lock()
			s.eof = true
			s.mu.Unlock()
			return n, io.EOF
		}
		return n, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}
	return n, nil
}

// Close releases the blob handle and fires the completion hook. It is
// idempotent; the hook runs exactly once no matter how the transfer
// ended.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	completed := s.eof
	s.mu.Unlock()

	err := s.src.Close()
	if s.onDone != nil {
		s.onDone(completed)
	}
	return err
}
