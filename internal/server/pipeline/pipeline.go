package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"relay/internal/server/storage"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"
)

// Sentinel errors for transfer failures.
var (
	ErrTooLarge     = errors.New("payload exceeds maximum upload size")
	ErrStorageWrite = errors.New("storage write failed")
	ErrStorageRead  = errors.New("storage read failed")
)

// sniffLen is how many leading bytes feed content-type detection,
// matching what the detector inspects at most.
const sniffLen = 3072

// Pipeline moves bytes between the network and the blob store in fixed
// chunks. One chunk-sized buffer per direction is the whole memory
// footprint of a transfer, regardless of payload size.
type Pipeline struct {
	store     storage.Store
	chunkSize int
	maxSize   int64 // 0 = unlimited
}

// New creates a pipeline. The chunk size is shared by the upload and
// download paths.
func New(store storage.Store, chunkSize int, maxSize int64) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = 1024 * 1024
	}
	return &Pipeline{store: store, chunkSize: chunkSize, maxSize: maxSize}
}

// UploadResult describes the blob written by Upload.
type UploadResult struct {
	Size        int64
	Digest      string
	ContentType string
}

// Upload consumes src to EOF, writing it to the blob named by id chunk by
// chunk while accumulating size, a BLAKE2b digest and a sniffed content
// type. On any failure, including context cancellation, the partial blob
// is removed before the error is returned.
func (p *Pipeline) Upload(ctx context.Context, id string, src io.Reader, declaredType string) (*UploadResult, error) {
	w, err := p.store.NewWriter(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		w.Abort()
		return nil, fmt.Errorf("failed to init digest: %w", err)
	}

	buf := make([]byte, p.chunkSize)
	var size int64
	var head []byte

	for {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return nil, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			size += int64(n)
			if p.maxSize > 0 && size > p.maxSize {
				w.Abort()
				return nil, ErrTooLarge
			}
			if len(head) < sniffLen {
				head = append(head, buf[:min(n, sniffLen-len(head))]...)
			}
			if _, err := w.Write(buf[:n]); err != nil {
				w.Abort()
				return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
			}
			hasher.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			w.Abort()
			return nil, fmt.Errorf("failed to read upload stream: %w", readErr)
		}
	}

	if _, err := w.Finalize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	return &UploadResult{
		Size:        size,
		Digest:      hex.EncodeToString(hasher.Sum(nil)),
		ContentType: resolveContentType(declaredType, head),
	}, nil
}

// Download opens the blob for a transfer and returns a chunk-bounded
// stream over it. onDone, if non-nil, runs exactly once when the stream
// is closed; its argument reports whether the stream reached EOF.
func (p *Pipeline) Download(ctx context.Context, id string, onDone func(completed bool)) (*Stream, error) {
	src, err := p.store.Open(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}
	return &Stream{
		ctx:       ctx,
		src:       src,
		chunkSize: p.chunkSize,
		onDone:    onDone,
	}, nil
}

// resolveContentType prefers what the client declared unless it declared
// nothing useful, in which case the leading bytes decide.
func resolveContentType(declared string, head []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(head) == 0 {
		return "application/octet-stream"
	}
	return mimetype.Detect(head).String()
}
