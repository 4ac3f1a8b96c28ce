package models

import "time"

// User represents a registered account holder. The PIN hash backs step-up
// verification of flagged transactions; the password backs login.
type User struct {
	ID          int        `json:"id" example:"1"`
	Name        string     `json:"name" example:"Priya Sharma"`
	AccountID   string     `json:"account" example:"ACC123456"`
	PhoneNumber string     `json:"phone" example:"+919812345678"`
	IsActive    bool       `json:"is_active"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
