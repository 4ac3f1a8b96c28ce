package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelpay/backend/internal/models"
)

// HistoryStore is the append-only per-account ledger of finalized
// transactions. It backs the behavioral baseline: the most recent N entries
// per account, oldest dropped first. Writes for the same account are
// serialized with a per-account mutex so concurrent finalizations cannot
// lose the trim invariant; reads are snapshot-consistent.
type HistoryStore struct {
	db         *sql.DB
	windowSize int
	locks      sync.Map // account -> *sync.Mutex
}

// NewHistoryStore creates a history store trimming to windowSize entries.
func NewHistoryStore(db *sql.DB, windowSize int) *HistoryStore {
	if windowSize <= 0 {
		windowSize = 5
	}
	return &HistoryStore{
		db:         db,
		windowSize: windowSize,
	}
}

func (s *HistoryStore) accountLock(account string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(account, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Record appends a finalized transaction to the sender's history and trims
// the account to the configured window. The caller must only record
// transactions whose disposition is approved.
func (s *HistoryStore) Record(ctx context.Context, tx *models.Transaction) error {
	mu := s.accountLock(tx.Account)
	mu.Lock()
	defer mu.Unlock()

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}
	defer dbTx.Rollback()

	_, err = dbTx.ExecContext(ctx, `
        INSERT INTO account_history (account, transaction_id, amount, location, recorded_at)
        VALUES ($1, $2, $3, $4, $5)
    `, tx.Account, tx.TransactionID, tx.Amount, tx.Location, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	// Drop everything older than the newest windowSize entries.
	_, err = dbTx.ExecContext(ctx, `
        DELETE FROM account_history
        WHERE account = $1 AND id NOT IN (
            SELECT id FROM account_history
            WHERE account = $1
            ORDER BY recorded_at DESC, id DESC
            LIMIT $2
        )
    `, tx.Account, s.windowSize)
	if err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}

	return dbTx.Commit()
}

// RecentWindow returns the account's history window oldest-first, at most
// windowSize entries. Unknown accounts get an empty window: new accounts are
// cold-start safe by construction.
func (s *HistoryStore) RecentWindow(ctx context.Context, account string) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT transaction_id, amount, location, recorded_at
        FROM account_history
        WHERE account = $1
        ORDER BY recorded_at DESC, id DESC
        LIMIT $2
    `, account, s.windowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read history window: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.TransactionID, &e.Amount, &e.Location, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest-first; the window contract is oldest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}

// LastKnownLocation returns the location of the account's newest finalized
// transaction, or empty when the account has no history.
func (s *HistoryStore) LastKnownLocation(ctx context.Context, account string) (string, error) {
	var location string
	err := s.db.QueryRowContext(ctx, `
        SELECT location FROM account_history
        WHERE account = $1
        ORDER BY recorded_at DESC, id DESC
        LIMIT 1
    `, account).Scan(&location)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last known location: %w", err)
	}
	return location, nil
}
