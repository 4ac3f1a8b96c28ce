package audit

import (
	"encoding/json"
	"log"
	"time"
)

// AuditEvent is one line of the decision audit trail. Every verdict, session
// transition, and blacklist mutation produces one.
type AuditEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	Account       string    `json:"account"`
	Status        string    `json:"status"`
	Details       any       `json:"details"`
}

type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

// LogVerdict records a scoring decision with the full reason list.
func (a *AuditLogger) LogVerdict(transactionID, account string, fraud bool, reasons []string) {
	status := "CLEAN"
	if fraud {
		status = "FLAGGED"
	}
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "VERDICT",
		TransactionID: transactionID,
		Account:       account,
		Status:        status,
		Details:       map[string]any{"reasons": reasons},
	}
	a.log(event)
}

// LogSession records a verification session transition.
func (a *AuditLogger) LogSession(sessionID, transactionID, account, state string) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "SESSION",
		TransactionID: transactionID,
		Account:       account,
		Status:        state,
		Details:       map[string]string{"session_id": sessionID},
	}
	a.log(event)
}

// LogBlacklist records a blacklist mutation.
func (a *AuditLogger) LogBlacklist(kind, value, reason, blockedBy string) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "BLACKLIST",
		Account:   value,
		Status:    "ADDED",
		Details: map[string]string{
			"kind":       kind,
			"reason":     reason,
			"blocked_by": blockedBy,
		},
	}
	a.log(event)
}

// LogError records a failed operation against a transaction.
func (a *AuditLogger) LogError(transactionID, account string, err error) {
	event := AuditEvent{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		Account:       account,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
