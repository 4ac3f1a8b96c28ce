package services

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/sentinelpay/backend/internal/notify"
)

// Publisher abstracts the event bus so notification dispatch can be mocked.
type Publisher interface {
	Publish(ctx context.Context, topic string, message interface{}) error
}

// NotificationService turns engine outcomes into SMS and alert events.
// Dispatch is fire-and-forget: a failed publish is logged and dropped, it
// never fails the scoring or verification call that produced it.
type NotificationService struct {
	db        *sql.DB
	publisher Publisher
}

func NewNotificationService(db *sql.DB, publisher Publisher) *NotificationService {
	return &NotificationService{
		db:        db,
		publisher: publisher,
	}
}

// SendSMS publishes an SMS event for the account's registered phone number.
func (s *NotificationService) SendSMS(ctx context.Context, account, message string) error {
	var phone string
	err := s.db.QueryRowContext(ctx,
		`SELECT phone_number FROM users WHERE account_id = $1`, account).Scan(&phone)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Printf("[NOTIFY] No phone number for account %s, dropping SMS", account)
			return nil
		}
		return err
	}

	event := notify.SMSEvent{
		Phone:   phone,
		Message: message,
		SentAt:  time.Now(),
	}
	return s.publisher.Publish(ctx, notify.TopicSMS, event)
}

// PublishAlert publishes a fraud alert for downstream case management.
func (s *NotificationService) PublishAlert(ctx context.Context, alert notify.FraudAlertEvent) error {
	return s.publisher.Publish(ctx, notify.TopicFraudAlerts, alert)
}

// DispatchSMS sends an SMS in the background with a bounded timeout, logging
// failures instead of surfacing them.
func (s *NotificationService) DispatchSMS(account, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.SendSMS(ctx, account, message); err != nil {
			log.Printf("[NOTIFY] SMS dispatch failed for account %s: %v", account, err)
		}
	}()
}

// DispatchAlert publishes a fraud alert in the background with a bounded
// timeout, logging failures instead of surfacing them.
func (s *NotificationService) DispatchAlert(alert notify.FraudAlertEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.PublishAlert(ctx, alert); err != nil {
			log.Printf("[NOTIFY] Alert dispatch failed for transaction %s: %v", alert.TransactionID, err)
		}
	}()
}
