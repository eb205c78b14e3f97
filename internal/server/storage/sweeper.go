package storage

import (
	"context"
	"log/slog"
	"time"

	"relay/internal/server/registry"
)

// Sweeper periodically finalizes deletion of expired and consumed
// transfers: bytes are released first, then the record transitions to
// deleted, which frees the code for reuse.
type Sweeper struct {
	reg      registry.Registry
	store    Store
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a new sweeper.
func NewSweeper(reg registry.Registry, store Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		reg:      reg,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("sweeper started", "interval", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run once immediately on start
		s.RunSweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.RunSweep(ctx)
			case <-ctx.Done():
				slog.Info("sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

// RunSweep executes a single sweep cycle. Safe to call on demand.
func (s *Sweeper) RunSweep(ctx context.Context) {
	dead, err := s.reg.SweepExpired(ctx, time.Now())
	if err != nil {
		slog.Error("failed to sweep registry", "error", err)
		return
	}
	if len(dead) == 0 {
		return
	}

	var cleaned, failed int
	for _, rec := range dead {
		if err := s.store.Delete(rec.ID); err != nil {
			slog.Error("failed to delete blob",
				"transfer_id", rec.ID,
				"error", err,
			)
			failed++
			continue
		}

		if err := s.reg.Delete(ctx, rec.ID); err != nil {
			slog.Error("failed to delete record",
				"transfer_id", rec.ID,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		slog.Info("swept transfer",
			"transfer_id", rec.ID,
			"state", rec.State,
			"expired_at", rec.ExpiresAt,
		)
	}

	slog.Info("sweep cycle complete",
		"cleaned", cleaned,
		"failed", failed,
		"total_dead", len(dead),
	)
}
