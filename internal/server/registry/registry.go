package registry

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all registry backends.
var (
	ErrNotFound      = errors.New("transfer not found")
	ErrExpired       = errors.New("transfer has expired")
	ErrConsumed      = errors.New("download budget exhausted")
	ErrCodeExhausted = errors.New("could not allocate a unique code")
	ErrInvalidBudget = errors.New("download budget must be at least one")
)

// State tracks a transfer record through its lifecycle.
type State string

const (
	StatePending  State = "pending"  // upload in progress, no code yet
	StateReady    State = "ready"    // resolvable by code
	StateConsumed State = "consumed" // budget reached zero
	StateExpired  State = "expired"  // TTL passed
	StateDeleted  State = "deleted"  // record and bytes released
)

// Record is the metadata for one uploaded artifact. ID names the backing
// blob in storage and never changes; Code is assigned once at finalization
// and is unique among non-deleted records.
type Record struct {
	ID                 string
	Code               string // normalized form, empty while pending
	OriginalName       string
	ContentType        string
	Size               int64
	Digest             string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	MaxDownloads       int
	DownloadsRemaining int
	State              State
}

// FinalizeParams carries the metadata learned during the upload.
type FinalizeParams struct {
	Name         string
	ContentType  string
	Size         int64
	Digest       string
	TTL          time.Duration
	MaxDownloads int
}

// Stats holds aggregate registry statistics.
type Stats struct {
	TotalTransfers  int64
	ActiveTransfers int64
	DownloadsServed int64
	BytesStored     int64
}

// Registry maps short codes to transfer records and owns the code
// lifecycle. Implementations must keep Consume linearizable: no two
// concurrent calls may both succeed against a remaining budget of one.
type Registry interface {
	// CreatePending allocates a new record in the pending state and
	// returns its internal id. No code is assigned yet.
	CreatePending(ctx context.Context) (string, error)

	// Finalize assigns a fresh code to a pending record and marks it
	// ready. Code generation retries on collision with live codes.
	// Returns ErrNotFound if id is unknown or the record is not pending,
	// and ErrInvalidBudget for a budget below one; the remaining count
	// must never be able to start at or below zero.
	Finalize(ctx context.Context, id string, p FinalizeParams) (string, error)

	// Resolve returns the record for a code without touching its budget,
	// so callers can preview metadata before committing to a download.
	// A past-expiry record is lazily transitioned and ErrExpired returned.
	Resolve(ctx context.Context, code string) (*Record, error)

	// Consume re-validates liveness and decrements the download budget as
	// a single checked decrement. The returned record reflects the state
	// after the decrement.
	Consume(ctx context.Context, code string) (*Record, error)

	// SweepExpired transitions past-expiry records to expired and returns
	// every expired or consumed record still holding storage, so the
	// caller can release the bytes and then call Delete. Idempotent.
	SweepExpired(ctx context.Context, now time.Time) ([]*Record, error)

	// Delete marks a record deleted and frees its code for reuse. Deleting
	// an already-deleted or unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteCode hard-deletes the live record for a code, returning its
	// final snapshot so the caller can release storage.
	DeleteCode(ctx context.Context, code string) (*Record, error)

	// Stats returns aggregate counters.
	Stats(ctx context.Context) (*Stats, error)
}
