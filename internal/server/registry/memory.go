package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxCodeAttempts bounds the generate-and-check loop in Finalize. With a
// 32^6 code space a collision streak this long means the registry is
// effectively full.
const maxCodeAttempts = 10

// Memory is the in-memory registry backend. All mutations happen under a
// single mutex, which keeps Consume a checked decrement and Finalize's
// generate-and-check atomic at the record counts this server handles.
type Memory struct {
	mu      sync.Mutex
	records map[string]*Record // by internal id
	codes   map[string]string  // live code -> internal id
	created int64              // records ever created
	served  int64              // downloads served across all records
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*Record),
		codes:   make(map[string]string),
	}
}

func (m *Memory) CreatePending(ctx context.Context) (string, error) {
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[id] = &Record{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		State:     StatePending,
	}
	m.created++
	return id, nil
}

func (m *Memory) Finalize(ctx context.Context, id string, p FinalizeParams) (string, error) {
	if p.MaxDownloads < 1 {
		return "", ErrInvalidBudget
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.State != StatePending {
		return "", ErrNotFound
	}

	var code string
	for attempt := 0; ; attempt++ {
		if attempt == maxCodeAttempts {
			return "", ErrCodeExhausted
		}
		c, err := NewCode()
		if err != nil {
			return "", err
		}
		if _, taken := m.codes[c]; !taken {
			code = c
			break
		}
	}

	now := time.Now().UTC()
	rec.Code = code
	rec.OriginalName = p.Name
	rec.ContentType = p.ContentType
	rec.Size = p.Size
	rec.Digest = p.Digest
	rec.ExpiresAt = now.Add(p.TTL)
	rec.MaxDownloads = p.MaxDownloads
	rec.DownloadsRemaining = p.MaxDownloads
	rec.State = StateReady

	m.codes[code] = id
	return code, nil
}

func (m *Memory) Resolve(ctx context.Context, code string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupLocked(code)
	if err != nil {
		return nil, err
	}
	return snapshot(rec), nil
}

func (m *Memory) Consume(ctx context.Context, code string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.lookupLocked(code)
	if err != nil {
		return nil, err
	}
	// A ready record always has budget left, but the counter must never
	// go negative even if that invariant breaks.
	if rec.DownloadsRemaining <= 0 {
		rec.State = StateConsumed
		return nil, ErrConsumed
	}

	rec.DownloadsRemaining--
	m.served++
	if rec.DownloadsRemaining == 0 {
		rec.State = StateConsumed
	}
	return snapshot(rec), nil
}

// lookupLocked resolves a code to its live record, lazily transitioning
// past-expiry records. Callers must hold the mutex.
func (m *Memory) lookupLocked(code string) (*Record, error) {
	id, ok := m.codes[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	rec := m.records[id]

	switch rec.State {
	case StateConsumed:
		return nil, ErrConsumed
	case StateExpired:
		return nil, ErrExpired
	}
	if time.Now().After(rec.ExpiresAt) {
		rec.State = StateExpired
		return nil, ErrExpired
	}
	return rec, nil
}

func (m *Memory) SweepExpired(ctx context.Context, now time.Time) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []*Record
	for _, rec := range m.records {
		if rec.State == StateReady && now.After(rec.ExpiresAt) {
			rec.State = StateExpired
		}
		if rec.State == StateExpired || rec.State == StateConsumed {
			dead = append(dead, snapshot(rec))
		}
	}
	return dead, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	if rec.Code != "" {
		delete(m.codes, rec.Code)
	}
	rec.State = StateDeleted
	delete(m.records, id)
	return nil
}

func (m *Memory) DeleteCode(ctx context.Context, code string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.codes[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	rec := m.records[id]
	out := snapshot(rec)
	out.State = StateDeleted

	delete(m.codes, rec.Code)
	delete(m.records, id)
	return out, nil
}

func (m *Memory) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{TotalTransfers: m.created, DownloadsServed: m.served}
	for _, rec := range m.records {
		if rec.State == StateReady && !time.Now().After(rec.ExpiresAt) {
			stats.ActiveTransfers++
			stats.BytesStored += rec.Size
		}
	}
	return stats, nil
}

func snapshot(rec *Record) *Record {
	out := *rec
	return &out
}
