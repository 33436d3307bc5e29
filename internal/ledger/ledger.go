// Package ledger appends one entry per completed video publication.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/safetrain/backend/internal/ids"
	"github.com/safetrain/backend/internal/models"
)

// Ledger is write-only from the pipeline's point of view.
type Ledger interface {
	Record(ctx context.Context, e models.LedgerEntry) error
}

// Repository stores ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts e. Missing ID and CreatedAt are filled in.
func (r *Repository) Record(ctx context.Context, e models.LedgerEntry) error {
	if err := fill(&e); err != nil {
		return err
	}
	const q = `INSERT INTO upload_ledger (id, owner_id, file_name, size_bytes, mime_type, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, q, e.ID, e.OwnerID, e.FileName, e.SizeBytes, e.MimeType, e.StorageKey, e.CreatedAt)
	return err
}

// MemoryLedger keeps entries in process memory.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (m *MemoryLedger) Record(_ context.Context, e models.LedgerEntry) error {
	if err := fill(&e); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of everything recorded so far.
func (m *MemoryLedger) Entries() []models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.LedgerEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

func fill(e *models.LedgerEntry) error {
	if e.StorageKey == "" {
		return errors.New("ledger entry requires a storage key")
	}
	if e.ID == "" {
		e.ID = ids.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}
