package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"relay/internal/server/config"
	"relay/internal/server/pipeline"
	"relay/internal/server/registry"
	"relay/internal/server/storage"
)

// Sentinel errors for the service layer. Each maps to a distinct outcome
// for the caller: retype the code, wait, shrink the payload, or give up.
var (
	ErrNotFound      = errors.New("transfer not found")
	ErrExpired       = errors.New("transfer has expired")
	ErrConsumed      = errors.New("download budget exhausted")
	ErrRateLimited   = errors.New("too many attempts")
	ErrTooLarge      = errors.New("payload exceeds maximum upload size")
	ErrInvalidBudget = errors.New("invalid download budget")
	ErrStorageWrite  = errors.New("storage write failed")
	ErrStorageRead   = errors.New("storage read failed")
)

// SendRequest describes an incoming upload. TTL and MaxDownloads are
// optional; zero values select the configured defaults.
type SendRequest struct {
	Filename     string
	ContentType  string
	Body         io.Reader
	TTL          time.Duration
	MaxDownloads int
}

// SendResult is returned after a successful upload.
type SendResult struct {
	Code         string    `json:"code"`
	DownloadURL  string    `json:"download_url"`
	ExpiresAt    time.Time `json:"expires_at"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	Digest       string    `json:"digest"`
	ContentType  string    `json:"content_type"`
	MaxDownloads int       `json:"max_downloads"`
}

// Info is the metadata preview for a code, returned without spending any
// of the download budget.
type Info struct {
	Code               string    `json:"code"`
	Filename           string    `json:"filename"`
	Size               int64     `json:"size"`
	ContentType        string    `json:"content_type"`
	Digest             string    `json:"digest"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	MaxDownloads       int       `json:"max_downloads"`
	DownloadsRemaining int       `json:"downloads_remaining"`
}

// Delivery couples a committed download with its metadata. The caller
// owns Stream and must close it.
type Delivery struct {
	Info   Info
	Stream *pipeline.Stream
}

// TransferService contains the business logic for code-gated transfers.
type TransferService struct {
	reg   registry.Registry
	store storage.Store
	pipe  *pipeline.Pipeline
	cfg   *config.Config
}

// NewTransferService creates a new transfer service.
func NewTransferService(reg registry.Registry, store storage.Store, pipe *pipeline.Pipeline, cfg *config.Config) *TransferService {
	return &TransferService{
		reg:   reg,
		store: store,
		pipe:  pipe,
		cfg:   cfg,
	}
}

// Send streams an upload into storage and registers it under a fresh
// code. Nothing survives a failed send: the partial blob and the pending
// record are both cleaned up before the error surfaces.
func (s *TransferService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	budget := req.MaxDownloads
	if budget == 0 {
		budget = s.cfg.MaxDownloads
	}
	// Checked after defaulting, so a misconfigured default cannot smuggle
	// in a budget below one either.
	if budget < 1 || budget > s.cfg.MaxDownloadsCeiling {
		return nil, ErrInvalidBudget
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if s.cfg.MaxTTL > 0 && ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}

	id, err := s.reg.CreatePending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending transfer: %w", err)
	}

	res, err := s.pipe.Upload(ctx, id, req.Body, req.ContentType)
	if err != nil {
		// The pipeline already removed any partial bytes.
		s.reg.Delete(context.WithoutCancel(ctx), id)
		switch {
		case errors.Is(err, pipeline.ErrTooLarge):
			return nil, ErrTooLarge
		case errors.Is(err, pipeline.ErrStorageWrite):
			return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
		}
		return nil, err
	}

	code, err := s.reg.Finalize(ctx, id, registry.FinalizeParams{
		Name:         sanitizeFilename(req.Filename),
		ContentType:  res.ContentType,
		Size:         res.Size,
		Digest:       res.Digest,
		TTL:          ttl,
		MaxDownloads: budget,
	})
	if err != nil {
		cleanupCtx := context.WithoutCancel(ctx)
		s.store.Delete(id)
		s.reg.Delete(cleanupCtx, id)
		return nil, fmt.Errorf("failed to finalize transfer: %w", err)
	}

	expiresAt := time.Now().UTC().Add(ttl)
	display := registry.FormatCode(code)

	slog.Info("transfer registered",
		"transfer_id", id,
		"filename", sanitizeFilename(req.Filename),
		"size", res.Size,
		"content_type", res.ContentType,
		"max_downloads", budget,
		"expires_at", expiresAt,
	)

	return &SendResult{
		Code:         display,
		DownloadURL:  fmt.Sprintf("%s/r/%s", s.cfg.BaseURL, display),
		ExpiresAt:    expiresAt,
		Filename:     sanitizeFilename(req.Filename),
		Size:         res.Size,
		Digest:       res.Digest,
		ContentType:  res.ContentType,
		MaxDownloads: budget,
	}, nil
}

// Peek returns metadata for a code without consuming any budget.
func (s *TransferService) Peek(ctx context.Context, code string) (*Info, error) {
	rec, err := s.reg.Resolve(ctx, code)
	if err != nil {
		return nil, mapRegistryError(err)
	}
	info := recordInfo(rec)
	return &info, nil
}

// Receive commits one download: the budget is spent up front as a single
// atomic decrement, then the byte stream is opened. When the spent
// download was the last one, the blob and record are released as soon as
// the stream closes, however the transfer ended.
func (s *TransferService) Receive(ctx context.Context, code string) (*Delivery, error) {
	rec, err := s.reg.Consume(ctx, code)
	if err != nil {
		return nil, mapRegistryError(err)
	}

	exhausted := rec.DownloadsRemaining == 0

	stream, err := s.pipe.Download(ctx, rec.ID, func(completed bool) {
		if !completed {
			slog.Warn("download aborted before completion", "transfer_id", rec.ID)
		}
		if !exhausted {
			return
		}
		// Release the bytes right away; the consumed record stays behind
		// so later attempts still see a distinguishable outcome, and the
		// sweeper finalizes the transition to deleted.
		if err := s.store.Delete(rec.ID); err != nil {
			slog.Error("failed to delete blob after final download",
				"transfer_id", rec.ID, "error", err)
			return // the sweeper picks it up later
		}
		slog.Info("bytes released after final download", "transfer_id", rec.ID)
	})
	if err != nil {
		slog.Error("blob missing for consumed transfer", "transfer_id", rec.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}

	return &Delivery{Info: recordInfo(rec), Stream: stream}, nil
}

// Delete removes a transfer early, before its budget or TTL runs out.
func (s *TransferService) Delete(ctx context.Context, code string) error {
	rec, err := s.reg.DeleteCode(ctx, code)
	if err != nil {
		return mapRegistryError(err)
	}

	if err := s.store.Delete(rec.ID); err != nil {
		slog.Error("failed to delete blob", "transfer_id", rec.ID, "error", err)
		// The record is already gone; the orphaned blob is harmless but logged.
	}

	slog.Info("transfer deleted", "transfer_id", rec.ID, "filename", rec.OriginalName)
	return nil
}

// Stats returns aggregate server statistics.
func (s *TransferService) Stats(ctx context.Context) (*registry.Stats, error) {
	return s.reg.Stats(ctx)
}

func recordInfo(rec *registry.Record) Info {
	return Info{
		Code:               registry.FormatCode(rec.Code),
		Filename:           rec.OriginalName,
		Size:               rec.Size,
		ContentType:        rec.ContentType,
		Digest:             rec.Digest,
		CreatedAt:          rec.CreatedAt,
		ExpiresAt:          rec.ExpiresAt,
		MaxDownloads:       rec.MaxDownloads,
		DownloadsRemaining: rec.DownloadsRemaining,
	}
}

// mapRegistryError translates registry sentinels into the service taxonomy.
func mapRegistryError(err error) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, registry.ErrExpired):
		return ErrExpired
	case errors.Is(err, registry.ErrConsumed):
		return ErrConsumed
	case errors.Is(err, registry.ErrInvalidBudget):
		return ErrInvalidBudget
	default:
		return err
	}
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	// Take only the base name
	name = filepath.Base(name)

	// Limit length
	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "file.bin"
	}

	return name
}
