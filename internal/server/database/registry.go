package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay/internal/server/registry"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const recordColumns = `id, code, original_name, content_type, size_bytes, digest,
	created_at, expires_at, max_downloads, downloads_remaining, state`

// maxCodeAttempts bounds the generate-and-check loop in Finalize.
const maxCodeAttempts = 10

// Registry is the postgres-backed registry. Budget decrements ride on a
// conditional UPDATE so the at-most-N guarantee holds across server
// processes sharing one database, and code uniqueness is enforced by a
// partial unique index over non-deleted rows.
type Registry struct {
	db *DB
}

// NewRegistry creates a postgres registry on an existing pool.
func NewRegistry(db *DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) CreatePending(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO transfers (id, created_at, state)
		VALUES ($1, $2, 'pending')
	`, id, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to create pending transfer: %w", err)
	}
	return id, nil
}

func (r *Registry) Finalize(ctx context.Context, id string, p registry.FinalizeParams) (string, error) {
	if p.MaxDownloads < 1 {
		return "", registry.ErrInvalidBudget
	}

	expiresAt := time.Now().UTC().Add(p.TTL)

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := registry.NewCode()
		if err != nil {
			return "", err
		}

		tag, err := r.db.Pool.Exec(ctx, `
			UPDATE transfers
			SET code = $2, original_name = $3, content_type = $4,
				size_bytes = $5, digest = $6, expires_at = $7,
				max_downloads = $8, downloads_remaining = $8, state = 'ready'
			WHERE id = $1 AND state = 'pending'
		`, id, code, p.Name, p.ContentType, p.Size, p.Digest, expiresAt, p.MaxDownloads)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				continue // code collision with a live record, generate again
			}
			return "", fmt.Errorf("failed to finalize transfer: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return "", registry.ErrNotFound
		}
		return code, nil
	}
	return "", registry.ErrCodeExhausted
}

func (r *Registry) Resolve(ctx context.Context, code string) (*registry.Record, error) {
	rec, err := r.getByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	switch rec.State {
	case registry.StateConsumed:
		return nil, registry.ErrConsumed
	case registry.StateExpired:
		return nil, registry.ErrExpired
	}
	if time.Now().After(rec.ExpiresAt) {
		// Lazy transition; losing the race to another resolver is fine.
		_, err := r.db.Pool.Exec(ctx,
			"UPDATE transfers SET state = 'expired' WHERE id = $1 AND state = 'ready'", rec.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to expire transfer: %w", err)
		}
		return nil, registry.ErrExpired
	}
	return rec, nil
}

func (r *Registry) Consume(ctx context.Context, code string) (*registry.Record, error) {
	row := r.db.Pool.QueryRow(ctx, `
		UPDATE transfers
		SET downloads_remaining = downloads_remaining - 1,
			state = CASE WHEN downloads_remaining = 1 THEN 'consumed' ELSE state END
		WHERE code = $1 AND state = 'ready'
			AND downloads_remaining > 0 AND expires_at > NOW()
		RETURNING `+recordColumns,
		registry.NormalizeCode(code))

	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to consume transfer: %w", err)
	}

	// Nothing matched: distinguish not-found, expired and exhausted, and
	// let Resolve apply the lazy expiry transition.
	if _, err := r.Resolve(ctx, code); err != nil {
		return nil, err
	}
	return nil, registry.ErrConsumed
}

func (r *Registry) SweepExpired(ctx context.Context, now time.Time) ([]*registry.Record, error) {
	_, err := r.db.Pool.Exec(ctx,
		"UPDATE transfers SET state = 'expired' WHERE state = 'ready' AND expires_at < $1", now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire transfers: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+recordColumns+" FROM transfers WHERE state IN ('expired', 'consumed')")
	if err != nil {
		return nil, fmt.Errorf("failed to query dead transfers: %w", err)
	}
	defer rows.Close()

	var dead []*registry.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead transfer: %w", err)
		}
		dead = append(dead, rec)
	}
	return dead, rows.Err()
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		"UPDATE transfers SET state = 'deleted' WHERE id = $1 AND state <> 'deleted'", id)
	if err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}
	return nil
}

func (r *Registry) DeleteCode(ctx context.Context, code string) (*registry.Record, error) {
	row := r.db.Pool.QueryRow(ctx, `
		UPDATE transfers SET state = 'deleted'
		WHERE code = $1 AND state <> 'deleted'
		RETURNING `+recordColumns,
		registry.NormalizeCode(code))

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete transfer by code: %w", err)
	}
	return rec, nil
}

func (r *Registry) Stats(ctx context.Context) (*registry.Stats, error) {
	stats := &registry.Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE state = 'ready' AND expires_at > NOW()),
			COALESCE(SUM(max_downloads - downloads_remaining), 0),
			COALESCE(SUM(size_bytes) FILTER (WHERE state IN ('pending', 'ready')), 0)
		FROM transfers
	`).Scan(
		&stats.TotalTransfers,
		&stats.ActiveTransfers,
		&stats.DownloadsServed,
		&stats.BytesStored,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func (r *Registry) getByCode(ctx context.Context, code string) (*registry.Record, error) {
	row := r.db.Pool.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM transfers WHERE code = $1 AND state <> 'deleted'",
		registry.NormalizeCode(code))

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registry.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*registry.Record, error) {
	rec := &registry.Record{}
	var code *string
	err := row.Scan(
		&rec.ID,
		&code,
		&rec.OriginalName,
		&rec.ContentType,
		&rec.Size,
		&rec.Digest,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.MaxDownloads,
		&rec.DownloadsRemaining,
		&rec.State,
	)
	if err != nil {
		return nil, err
	}
	if code != nil {
		rec.Code = *code
	}
	return rec, nil
}
