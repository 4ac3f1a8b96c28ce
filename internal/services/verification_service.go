package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sentinelpay/backend/internal/audit"
	"github.com/sentinelpay/backend/internal/models"
)

// PinStore serves stored verification PIN hashes.
type PinStore interface {
	PinHash(ctx context.Context, account string) (string, error)
}

// VerificationService resolves the sessions the fraud engine opens. A
// session resolves exactly once: correct PIN verifies and finalizes the
// held transaction, wrong PIN blocks it and blacklists the recipient,
// cancellation abandons it. Any later attempt against the same session is
// rejected.
type VerificationService struct {
	db            *sql.DB
	sessions      *SessionStore
	pins          PinStore
	blacklist     *BlacklistService
	history       *HistoryStore
	settlement    *SettlementService
	notifications *NotificationService
	qr            *QRService
	audit         *audit.AuditLogger
	validator     *ValidationHelper
}

func NewVerificationService(
	db *sql.DB,
	sessions *SessionStore,
	pins PinStore,
	blacklist *BlacklistService,
	history *HistoryStore,
	settlement *SettlementService,
	notifications *NotificationService,
	qr *QRService,
) *VerificationService {
	return &VerificationService{
		db:            db,
		sessions:      sessions,
		pins:          pins,
		blacklist:     blacklist,
		history:       history,
		settlement:    settlement,
		notifications: notifications,
		qr:            qr,
		audit:         audit.NewAuditLogger(),
		validator:     NewValidationHelper(),
	}
}

// VerifyRequest represents a PIN verification attempt
// @Description PIN verification request for a flagged transaction
type VerifyRequest struct {
	Account       string `json:"account" validate:"required" example:"9182736450"` // Sender account
	PIN           string `json:"pin" validate:"required,len=4,numeric" example:"4821"`
	SessionID     string `json:"session_id,omitempty" example:"8a2f63c1-..."` // Session id, if known
	TransactionID string `json:"transaction_id,omitempty" example:"TXN-1042"` // Flagged transaction id, used when session id is absent
}

// VerifyResponse represents the verification outcome
// @Description Verification outcome
type VerifyResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state,omitempty"`
}

// VerifyPIN resolves a verification session with a PIN attempt
// @Summary Verify a flagged transaction
// @Description Resolve a pending verification session. A correct PIN finalizes the transaction; a wrong PIN blocks it and blacklists the recipient.
// @Tags verification
// @Accept json
// @Produce json
// @Param request body VerifyRequest true "Verification attempt"
// @Success 200 {object} VerifyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Session already resolved"
// @Router /verify [post]
func (vs *VerificationService) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := vs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.SessionID == "" && req.TransactionID == "" {
		SendErrorResponse(w, "session_id or transaction_id is required", http.StatusBadRequest, nil)
		return
	}

	session, err := vs.loadSession(r.Context(), req.SessionID, req.TransactionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			SendErrorResponse(w, "Verification session not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[VERIFY] Failed to load session: %v", err)
			SendErrorResponse(w, "Failed to load verification session", http.StatusInternalServerError, nil)
		}
		return
	}

	if session.Terminal() {
		SendErrorResponse(w, fmt.Sprintf("Session already resolved: %s", session.State), http.StatusConflict, nil)
		return
	}

	if session.Account != req.Account {
		log.Printf("[VERIFY] Account mismatch for session %s", session.ID)
		SendErrorResponse(w, "Account does not match session", http.StatusForbidden, nil)
		return
	}

	matched, err := vs.checkPIN(r.Context(), req.Account, req.PIN)
	if err != nil {
		log.Printf("[VERIFY] PIN lookup failed for account %s: %v", req.Account, err)
		SendErrorResponse(w, "Failed to verify PIN", http.StatusInternalServerError, nil)
		return
	}

	var resp VerifyResponse
	if matched {
		resp, err = vs.resolveVerified(r.Context(), session)
	} else {
		resp, err = vs.resolveBlocked(r.Context(), session)
	}
	if err != nil {
		if errors.Is(err, ErrInvalidSessionState) {
			SendErrorResponse(w, "Session already resolved", http.StatusConflict, nil)
			return
		}
		log.Printf("[VERIFY] Failed to resolve session %s: %v", session.ID, err)
		SendErrorResponse(w, "Failed to resolve verification session", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (vs *VerificationService) loadSession(ctx context.Context, sessionID, transactionID string) (*models.VerificationSession, error) {
	if sessionID != "" {
		return vs.sessions.Get(ctx, sessionID)
	}
	return vs.sessions.GetByTransaction(ctx, transactionID)
}

// checkPIN compares the attempt against the stored hash. An account with no
// PIN enrollment fails verification rather than erroring: the caller cannot
// prove ownership of an account that never set a PIN.
func (vs *VerificationService) checkPIN(ctx context.Context, account, pin string) (bool, error) {
	hash, err := vs.pins.PinHash(ctx, account)
	if err != nil {
		if errors.Is(err, ErrPinHashNotFound) {
			return false, nil
		}
		return false, err
	}
	return verifySecret(pin, hash), nil
}

// resolveVerified wins the pending session and finalizes the held
// transaction: it becomes part of the account's behavioral history, is
// queued for settlement, and the sender is notified.
func (vs *VerificationService) resolveVerified(ctx context.Context, session *models.VerificationSession) (VerifyResponse, error) {
	if err := vs.sessions.Resolve(ctx, session.ID, models.SessionVerified); err != nil {
		return VerifyResponse{}, err
	}
	vs.audit.LogSession(session.ID, session.Txn.TransactionID, session.Account, models.SessionVerified)

	if err := vs.updateTransaction(ctx, session.Txn.TransactionID, "approved", true); err != nil {
		return VerifyResponse{}, err
	}

	if err := vs.history.Record(ctx, &session.Txn); err != nil {
		return VerifyResponse{}, err
	}

	if err := vs.settlement.Queue(ctx, &session.Txn); err != nil {
		log.Printf("[VERIFY] Failed to queue transaction %s for settlement: %v", session.Txn.TransactionID, err)
	}

	vs.notifications.DispatchSMS(session.Account, fmt.Sprintf(
		"Transaction %s verified and processed.", session.Txn.TransactionID))

	log.Printf("[VERIFY] Session %s verified, transaction %s finalized", session.ID, session.Txn.TransactionID)
	return VerifyResponse{
		Success:   true,
		Message:   "Transaction verified and processed",
		SessionID: session.ID,
		State:     models.SessionVerified,
	}, nil
}

// resolveBlocked loses the session on a wrong PIN: the transaction is
// declined, never enters history, and the recipient account is blacklisted.
// The blacklist write happens before the session resolves: a registry outage
// fails the whole request and leaves the session pending for a retry. Writing
// it after would lose the entry forever, since the resolved session rejects
// every later attempt.
func (vs *VerificationService) resolveBlocked(ctx context.Context, session *models.VerificationSession) (VerifyResponse, error) {
	if err := vs.blacklist.Add(ctx, models.BlacklistKindAccount, session.Txn.RecipientAccount,
		"failed PIN verification", session.Account); err != nil {
		return VerifyResponse{}, fmt.Errorf("failed to blacklist recipient %s: %w", session.Txn.RecipientAccount, err)
	}

	if err := vs.sessions.Resolve(ctx, session.ID, models.SessionBlocked); err != nil {
		return VerifyResponse{}, err
	}
	vs.audit.LogSession(session.ID, session.Txn.TransactionID, session.Account, models.SessionBlocked)

	if err := vs.updateTransaction(ctx, session.Txn.TransactionID, "blocked", false); err != nil {
		return VerifyResponse{}, err
	}

	vs.notifications.DispatchSMS(session.Account, fmt.Sprintf(
		"Transaction %s was blocked after a failed PIN verification. Contact support if this was not you.",
		session.Txn.TransactionID))

	log.Printf("[VERIFY] Session %s blocked, recipient %s blacklisted", session.ID, session.Txn.RecipientAccount)
	return VerifyResponse{
		Success:   false,
		Message:   "Incorrect PIN, transaction blocked and recipient blacklisted",
		SessionID: session.ID,
		State:     models.SessionBlocked,
	}, nil
}

// CancelSession abandons a pending verification session
// @Summary Cancel a verification session
// @Description Abandon a pending session. The held transaction is declined without penalty.
// @Tags verification
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} VerifyResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Session already resolved"
// @Router /verify/{id}/cancel [post]
func (vs *VerificationService) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	session, err := vs.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			SendErrorResponse(w, "Verification session not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to load verification session", http.StatusInternalServerError, nil)
		}
		return
	}

	if err := vs.sessions.Resolve(r.Context(), session.ID, models.SessionCancelled); err != nil {
		if errors.Is(err, ErrInvalidSessionState) {
			SendErrorResponse(w, fmt.Sprintf("Session already resolved: %s", session.State), http.StatusConflict, nil)
			return
		}
		SendErrorResponse(w, "Failed to cancel verification session", http.StatusInternalServerError, nil)
		return
	}
	vs.audit.LogSession(session.ID, session.Txn.TransactionID, session.Account, models.SessionCancelled)

	if err := vs.updateTransaction(r.Context(), session.Txn.TransactionID, "cancelled", false); err != nil {
		log.Printf("[VERIFY] Failed to mark transaction %s cancelled: %v", session.Txn.TransactionID, err)
	}

	log.Printf("[VERIFY] Session %s cancelled", session.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VerifyResponse{
		Success:   false,
		Message:   "Verification session cancelled",
		SessionID: session.ID,
		State:     models.SessionCancelled,
	})
}

// GetSession returns the current state of a verification session
// @Summary Get verification session
// @Tags verification
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.VerificationSession
// @Failure 404 {object} ErrorResponse
// @Router /verify/{id} [get]
func (vs *VerificationService) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := vs.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			SendErrorResponse(w, "Verification session not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to load verification session", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

// SessionQR issues a QR code that opens the session in the banking app
// @Summary Get verification QR code
// @Description Issue a short-lived QR code deep-linking a pending session
// @Tags verification
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} object{code=string,image=string,expires_in=int}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Session already resolved"
// @Router /verify/{id}/qr [get]
func (vs *VerificationService) SessionQR(w http.ResponseWriter, r *http.Request) {
	session, err := vs.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			SendErrorResponse(w, "Verification session not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to load verification session", http.StatusInternalServerError, nil)
		}
		return
	}

	if session.Terminal() {
		SendErrorResponse(w, fmt.Sprintf("Session already resolved: %s", session.State), http.StatusConflict, nil)
		return
	}

	code, image, err := vs.qr.GenerateSessionQR(r.Context(), session.ID)
	if err != nil {
		log.Printf("[VERIFY] QR generation failed for session %s: %v", session.ID, err)
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"code":       code,
		"image":      image,
		"expires_in": int((5 * time.Minute).Seconds()),
	})
}

type qrRedeemRequest struct {
	Code string `json:"code" validate:"required"`
}

// RedeemQR exchanges a scanned QR code for its verification session
// @Summary Redeem a verification QR code
// @Description Exchange a scanned code for the session it deep-links. Codes are single-use; redeeming consumes the code.
// @Tags verification
// @Accept json
// @Produce json
// @Param request body qrRedeemRequest true "Scanned code"
// @Success 200 {object} models.VerificationSession
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /verify/qr [post]
func (vs *VerificationService) RedeemQR(w http.ResponseWriter, r *http.Request) {
	var req qrRedeemRequest
	if err := DecodeStrict(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := vs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payload, err := vs.qr.ProcessQRCode(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, ErrQRCodeNotFound) {
			SendErrorResponse(w, "Invalid or expired QR code", http.StatusNotFound, nil)
		} else {
			log.Printf("[VERIFY] QR redeem failed: %v", err)
			SendErrorResponse(w, "Failed to redeem QR code", http.StatusInternalServerError, nil)
		}
		return
	}

	sessionID, _ := payload["session_id"].(string)
	session, err := vs.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			SendErrorResponse(w, "Verification session not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to load verification session", http.StatusInternalServerError, nil)
		}
		return
	}

	log.Printf("[VERIFY] QR code redeemed for session %s", session.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

func (vs *VerificationService) updateTransaction(ctx context.Context, transactionID, status string, pinVerified bool) error {
	_, err := vs.db.ExecContext(ctx, `
        UPDATE transactions
        SET status = $1, pin_verified = $2
        WHERE transaction_id = $3
    `, status, pinVerified, transactionID)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", transactionID, err)
	}
	return nil
}
