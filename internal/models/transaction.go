package models

import (
	"time"
)

// TimestampLayout is the wire format for transaction timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Transaction represents a single banking transaction submitted for scoring.
// A transaction is immutable once scored: it is either finalized immediately
// (approved/blocked) or held pending until its verification session resolves.
type Transaction struct {
	TransactionID    string  `json:"transaction_id" validate:"required" example:"TXN-1001"`
	Account          string  `json:"account" validate:"required" example:"ACC123456"`           // Sender account
	RecipientAccount string  `json:"recipient_account" validate:"required" example:"ACC789012"` // Recipient account
	Amount           float64 `json:"amount" validate:"required,gt=0" example:"2500.00"`         // Positive decimal
	Currency         string  `json:"currency" validate:"required,len=3" example:"INR"`          // ISO currency code
	Location         string  `json:"location" validate:"required" example:"Mumbai"`             // Geocodable string
	CardType         string  `json:"card_type" validate:"required" example:"VISA"`              // Card network/type
	Timestamp        string  `json:"timestamp" validate:"required" example:"2025-08-07 16:55:00"`
	SourceIP         string  `json:"source_ip,omitempty"` // Captured server-side, never trusted from the body
}

// ParseTimestamp parses the wire-format timestamp.
func (t *Transaction) ParseTimestamp() (time.Time, error) {
	return time.Parse(TimestampLayout, t.Timestamp)
}

// Verdict is the result of scoring a transaction. Fraud is true if and only
// if at least one detector fired; reasons preserve detector evaluation order.
type Verdict struct {
	Fraud     bool     `json:"fraud"`
	Reasons   []string `json:"reasons"`
	SessionID string   `json:"session_id,omitempty"` // Set when a verification session was opened
}

// Flag appends a reason and marks the verdict fraudulent.
func (v *Verdict) Flag(reason string) {
	v.Fraud = true
	v.Reasons = append(v.Reasons, reason)
}

// HistoryEntry is one finalized transaction in an account's behavioral window.
type HistoryEntry struct {
	TransactionID string    `json:"transaction_id"`
	Amount        float64   `json:"amount"`
	Location      string    `json:"location"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Blacklist identifier kinds. Sender/recipient accounts and source IPs are
// looked up independently.
const (
	BlacklistKindAccount = "account"
	BlacklistKindIP      = "ip"
)

// BlacklistEntry records a blocked identifier. Entries never expire; removal
// is always explicit.
type BlacklistEntry struct {
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason"`
	BlockedBy string    `json:"blocked_by,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// Verification session states. Pending is the only non-terminal state.
const (
	SessionPending   = "pending"
	SessionVerified  = "verified"
	SessionBlocked   = "blocked"
	SessionCancelled = "cancelled"
)

// VerificationSession tracks a flagged transaction awaiting step-up PIN
// confirmation. Exactly one resolving call is accepted; later attempts fail
// with ErrInvalidSessionState.
type VerificationSession struct {
	ID         string      `json:"id"`
	Account    string      `json:"account"`
	Txn        Transaction `json:"transaction"`
	State      string      `json:"state"`
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

// Terminal reports whether the session can accept no further transitions.
func (s *VerificationSession) Terminal() bool {
	return s.State != SessionPending
}
