package notify

import "time"

// SMSEvent asks the downstream gateway to deliver a text message.
type SMSEvent struct {
	Phone   string    `json:"phone"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// FraudAlertEvent announces a flagged or blocked transaction to downstream
// case-management consumers.
type FraudAlertEvent struct {
	TransactionID string    `json:"transaction_id"`
	Account       string    `json:"account"`
	Recipient     string    `json:"recipient_account"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Reasons       []string  `json:"reasons"`
	Disposition   string    `json:"disposition"` // flagged, verified, blocked, cancelled
	OccurredAt    time.Time `json:"occurred_at"`
}
