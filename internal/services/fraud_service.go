package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sentinelpay/backend/internal/audit"
	"github.com/sentinelpay/backend/internal/models"
	"github.com/sentinelpay/backend/internal/notify"
)

// FraudService is the decision engine. It orchestrates the blacklist
// registry, the behavioral detector, and the geo-drift detector into a
// single verdict, finalizes clean transactions immediately, and opens a
// verification session for flagged ones.
type FraudService struct {
	db            *sql.DB
	history       *HistoryStore
	behavior      *BehaviorDetector
	geodrift      *GeoDriftDetector
	blacklist     *BlacklistService
	sessions      *SessionStore
	settlement    *SettlementService
	notifications *NotificationService
	audit         *audit.AuditLogger
	validator     *ValidationHelper
}

func NewFraudService(
	db *sql.DB,
	history *HistoryStore,
	behavior *BehaviorDetector,
	geodrift *GeoDriftDetector,
	blacklist *BlacklistService,
	sessions *SessionStore,
	settlement *SettlementService,
	notifications *NotificationService,
) *FraudService {
	return &FraudService{
		db:            db,
		history:       history,
		behavior:      behavior,
		geodrift:      geodrift,
		blacklist:     blacklist,
		sessions:      sessions,
		settlement:    settlement,
		notifications: notifications,
		audit:         audit.NewAuditLogger(),
		validator:     NewValidationHelper(),
	}
}

// Score evaluates a transaction and finalizes or defers it. Evaluation order
// is fixed for explainability: blacklisted recipient, blacklisted sender,
// blacklisted source IP, behavioral anomaly, geo drift. Every check runs and
// every triggered reason is reported; nothing short-circuits.
//
// A clean verdict records the transaction into the sender's history right
// away. A fraud verdict defers recording to the verification state machine
// and returns the opened session's id on the verdict.
func (fs *FraudService) Score(ctx context.Context, tx *models.Transaction) (*models.Verdict, error) {
	verdict := &models.Verdict{Reasons: []string{}}

	blocked, err := fs.blacklist.IsBlocked(ctx, models.BlacklistKindAccount, tx.RecipientAccount)
	if err != nil {
		return nil, err
	}
	if blocked {
		verdict.Flag(fmt.Sprintf("Blacklisted Recipient Account: %s", tx.RecipientAccount))
	}

	blocked, err = fs.blacklist.IsBlocked(ctx, models.BlacklistKindAccount, tx.Account)
	if err != nil {
		return nil, err
	}
	if blocked {
		verdict.Flag(fmt.Sprintf("Blacklisted Sender Account: %s", tx.Account))
	}

	if tx.SourceIP != "" {
		blocked, err = fs.blacklist.IsBlocked(ctx, models.BlacklistKindIP, tx.SourceIP)
		if err != nil {
			return nil, err
		}
		if blocked {
			verdict.Flag(fmt.Sprintf("Blacklisted IP Address: %s", tx.SourceIP))
		}
	}

	// The window never includes the transaction being scored: it is only
	// recorded after a clean verdict or a verified session.
	window, err := fs.history.RecentWindow(ctx, tx.Account)
	if err != nil {
		return nil, err
	}
	if anomalous, z := fs.behavior.Check(tx.Amount, window); anomalous {
		if z == 0 {
			verdict.Flag(fmt.Sprintf(
				"Behavioral Anomaly: amount %.2f deviates from constant history (z-score 0.00, zero variance)",
				tx.Amount))
		} else {
			verdict.Flag(fmt.Sprintf(
				"Behavioral Anomaly: amount %.2f (z-score %.2f exceeds threshold %.2f)",
				tx.Amount, z, fs.behavior.ZThreshold))
		}
	}

	lastLocation, err := fs.history.LastKnownLocation(ctx, tx.Account)
	if err != nil {
		return nil, err
	}
	if drift, km := fs.geodrift.Check(tx.Location, lastLocation); drift {
		verdict.Flag(fmt.Sprintf(
			"Geo Drift Detected: %.1f km from last known location %s (max %.0f km)",
			km, lastLocation, fs.geodrift.maxKm))
	}

	fs.audit.LogVerdict(tx.TransactionID, tx.Account, verdict.Fraud, verdict.Reasons)

	if !verdict.Fraud {
		if err := fs.finalizeClean(ctx, tx, verdict); err != nil {
			return nil, err
		}
		return verdict, nil
	}

	if err := fs.deferToVerification(ctx, tx, verdict); err != nil {
		return nil, err
	}
	return verdict, nil
}

func (fs *FraudService) finalizeClean(ctx context.Context, tx *models.Transaction, verdict *models.Verdict) error {
	if err := fs.storeTransaction(ctx, tx, verdict, "approved", true); err != nil {
		return err
	}

	if err := fs.history.Record(ctx, tx); err != nil {
		return err
	}

	if err := fs.settlement.Queue(ctx, tx); err != nil {
		log.Printf("[FRAUD] Failed to queue transaction %s for settlement: %v", tx.TransactionID, err)
	}

	fs.notifications.DispatchSMS(tx.Account, fmt.Sprintf(
		"Transaction %s of %s %.2f has been approved and processed.",
		tx.TransactionID, tx.Currency, tx.Amount))

	log.Printf("[FRAUD] Transaction %s approved for account %s", tx.TransactionID, tx.Account)
	return nil
}

func (fs *FraudService) deferToVerification(ctx context.Context, tx *models.Transaction, verdict *models.Verdict) error {
	if err := fs.storeTransaction(ctx, tx, verdict, "pending", false); err != nil {
		return err
	}

	session, err := fs.sessions.Create(ctx, tx)
	if err != nil {
		return err
	}
	verdict.SessionID = session.ID
	fs.audit.LogSession(session.ID, tx.TransactionID, tx.Account, session.State)

	fs.notifications.DispatchAlert(notify.FraudAlertEvent{
		TransactionID: tx.TransactionID,
		Account:       tx.Account,
		Recipient:     tx.RecipientAccount,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Reasons:       verdict.Reasons,
		Disposition:   "flagged",
		OccurredAt:    time.Now(),
	})
	fs.notifications.DispatchSMS(tx.Account, fmt.Sprintf(
		"SECURITY ALERT: Transaction %s of %s %.2f requires PIN verification. Reply in your banking app.",
		tx.TransactionID, tx.Currency, tx.Amount))

	log.Printf("[FRAUD] Transaction %s flagged for account %s, session %s opened: %v",
		tx.TransactionID, tx.Account, session.ID, verdict.Reasons)
	return nil
}

func (fs *FraudService) storeTransaction(ctx context.Context, tx *models.Transaction, verdict *models.Verdict, status string, pinVerified bool) error {
	reasonsJSON, _ := json.Marshal(verdict.Reasons)
	_, err := fs.db.ExecContext(ctx, `
        INSERT INTO transactions
        (transaction_id, account, recipient_account, amount, currency, location, card_type, source_ip, is_fraud, fraud_reasons, status, pin_verified, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `, tx.TransactionID, tx.Account, tx.RecipientAccount, tx.Amount, tx.Currency,
		tx.Location, tx.CardType, tx.SourceIP, verdict.Fraud, reasonsJSON, status, pinVerified, time.Now())
	if err != nil {
		fs.audit.LogError(tx.TransactionID, tx.Account, err)
		return fmt.Errorf("failed to store transaction: %w", err)
	}
	return nil
}

// CheckFraud scores a transaction
// @Summary Score a transaction for fraud
// @Description Run the transaction through blacklist, behavioral, and geo-drift checks
// @Tags fraud
// @Accept json
// @Produce json
// @Param transaction body models.Transaction true "Transaction to score"
// @Success 200 {object} models.Verdict
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /fraud/check [post]
func (fs *FraudService) CheckFraud(w http.ResponseWriter, r *http.Request) {
	var tx models.Transaction
	if err := fs.decodeTransaction(w, r, &tx); err != nil {
		return
	}

	tx.SourceIP = clientIP(r)

	// Duplicate submissions return the stored disposition instead of
	// re-scoring (idempotency against network retries).
	var existingStatus string
	err := fs.db.QueryRowContext(r.Context(),
		`SELECT status FROM transactions WHERE transaction_id = $1`, tx.TransactionID).Scan(&existingStatus)
	if err == nil {
		log.Printf("[FRAUD] Duplicate transaction detected: %s, status: %s", tx.TransactionID, existingStatus)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  existingStatus,
			"message": "Transaction already processed",
		})
		return
	}

	verdict, err := fs.Score(r.Context(), &tx)
	if err != nil {
		log.Printf("[FRAUD] Scoring failed for %s: %v", tx.TransactionID, err)
		SendErrorResponse(w, "Failed to score transaction", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(verdict)
}

// decodeTransaction rejects malformed transactions before anything is
// scored or recorded. It writes the error response itself.
func (fs *FraudService) decodeTransaction(w http.ResponseWriter, r *http.Request, tx *models.Transaction) error {
	if err := DecodeStrict(w, r, tx); err != nil {
		log.Printf("[FRAUD] Malformed transaction body: %v", err)
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return err
	}

	if err := fs.validator.ValidateStruct(tx); err != nil {
		log.Printf("[FRAUD] Transaction validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return err
	}

	if _, err := tx.ParseTimestamp(); err != nil {
		log.Printf("[FRAUD] Invalid timestamp %q: %v", tx.Timestamp, err)
		SendErrorResponse(w, "Invalid timestamp format, expected YYYY-MM-DD HH:MM:SS", http.StatusBadRequest, nil)
		return err
	}

	return nil
}

// GetTransaction retrieves a scored transaction
// @Summary Get transaction by ID
// @Description Retrieve a scored transaction and its disposition
// @Tags fraud
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (fs *FraudService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	row := fs.db.QueryRowContext(r.Context(), `
        SELECT transaction_id, account, recipient_account, amount, currency, location, card_type, source_ip, is_fraud, fraud_reasons, status, pin_verified, created_at
        FROM transactions
        WHERE transaction_id = $1
    `, txID)

	record, err := scanTransactionRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[FRAUD] Failed to fetch transaction %s: %v", txID, err)
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// ListTransactions retrieves transactions for an account
// @Summary List transactions
// @Description List scored transactions filtered by account or status
// @Tags fraud
// @Produce json
// @Param account query string false "Filter by sender account"
// @Param status query string false "Filter by status"
// @Success 200 {object} object{transactions=[]map[string]interface{},count=int}
// @Failure 500 {object} ErrorResponse
// @Router /transactions [get]
func (fs *FraudService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	status := r.URL.Query().Get("status")
	limit := 50

	var conditions []string
	var args []interface{}
	argIndex := 1

	query := `
        SELECT transaction_id, account, recipient_account, amount, currency, location, card_type, source_ip, is_fraud, fraud_reasons, status, pin_verified, created_at
        FROM transactions
    `

	if account != "" {
		conditions = append(conditions, fmt.Sprintf("account = $%d", argIndex))
		args = append(args, account)
		argIndex++
	}
	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := fs.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	records := []map[string]interface{}{}
	for rows.Next() {
		record, err := scanTransactionRecord(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		records = append(records, record)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": records,
		"count":        len(records),
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransactionRecord(row rowScanner) (map[string]interface{}, error) {
	var (
		tx          models.Transaction
		isFraud     bool
		reasonsJSON []byte
		status      string
		pinVerified bool
		createdAt   time.Time
	)
	err := row.Scan(
		&tx.TransactionID, &tx.Account, &tx.RecipientAccount, &tx.Amount, &tx.Currency,
		&tx.Location, &tx.CardType, &tx.SourceIP, &isFraud, &reasonsJSON, &status, &pinVerified, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	reasons := []string{}
	json.Unmarshal(reasonsJSON, &reasons)

	return map[string]interface{}{
		"transaction":  tx,
		"fraud":        isFraud,
		"reasons":      reasons,
		"status":       status,
		"pin_verified": pinVerified,
		"created_at":   createdAt,
	}, nil
}

// clientIP extracts the originating client address, preferring proxy
// headers over the socket peer.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
