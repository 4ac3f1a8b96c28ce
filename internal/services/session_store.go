package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelpay/backend/internal/models"
)

// SessionStore persists verification sessions. The pending → terminal
// transition is enforced in SQL with a conditional update, so exactly one
// resolving call wins even under concurrent duplicate retries.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create opens a pending session for a flagged transaction.
func (s *SessionStore) Create(ctx context.Context, tx *models.Transaction) (*models.VerificationSession, error) {
	session := &models.VerificationSession{
		ID:        uuid.New().String(),
		Account:   tx.Account,
		Txn:       *tx,
		State:     models.SessionPending,
		CreatedAt: time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO verification_sessions
        (id, account, transaction_id, recipient_account, amount, currency, location, card_type, source_ip, state, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `, session.ID, tx.Account, tx.TransactionID, tx.RecipientAccount, tx.Amount,
		tx.Currency, tx.Location, tx.CardType, tx.SourceIP, session.State, session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification session: %w", err)
	}

	return session, nil
}

// Get loads a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*models.VerificationSession, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
        SELECT id, account, transaction_id, recipient_account, amount, currency, location, card_type, source_ip, state, created_at, resolved_at
        FROM verification_sessions
        WHERE id = $1
    `, id))
}

// GetByTransaction loads the session opened for a transaction, if any.
func (s *SessionStore) GetByTransaction(ctx context.Context, transactionID string) (*models.VerificationSession, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
        SELECT id, account, transaction_id, recipient_account, amount, currency, location, card_type, source_ip, state, created_at, resolved_at
        FROM verification_sessions
        WHERE transaction_id = $1
        ORDER BY created_at DESC
        LIMIT 1
    `, transactionID))
}

// Resolve moves a pending session to the given terminal state. Returns
// ErrInvalidSessionState when the session is already terminal: the losing
// call of a duplicate retry must not re-apply side effects.
func (s *SessionStore) Resolve(ctx context.Context, id, state string) error {
	result, err := s.db.ExecContext(ctx, `
        UPDATE verification_sessions
        SET state = $1, resolved_at = $2
        WHERE id = $3 AND state = $4
    `, state, time.Now(), id, models.SessionPending)
	if err != nil {
		return fmt.Errorf("failed to resolve verification session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidSessionState
	}
	return nil
}

func (s *SessionStore) scanSession(row *sql.Row) (*models.VerificationSession, error) {
	session := &models.VerificationSession{}
	var resolvedAt sql.NullTime
	err := row.Scan(
		&session.ID, &session.Account, &session.Txn.TransactionID, &session.Txn.RecipientAccount,
		&session.Txn.Amount, &session.Txn.Currency, &session.Txn.Location, &session.Txn.CardType,
		&session.Txn.SourceIP, &session.State, &session.CreatedAt, &resolvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verification session: %w", err)
	}
	session.Txn.Account = session.Account
	if resolvedAt.Valid {
		session.ResolvedAt = &resolvedAt.Time
	}
	return session, nil
}
