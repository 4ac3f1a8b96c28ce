package services

import "errors"

var (
	// ErrInvalidSessionState is returned when a resolving call hits a
	// verification session that is already terminal. The original resolution
	// is never re-applied.
	ErrInvalidSessionState = errors.New("verification session already resolved")

	// ErrSessionNotFound is returned when no verification session exists for
	// the given reference.
	ErrSessionNotFound = errors.New("verification session not found")

	// ErrPinHashNotFound is returned when the credential store has no PIN for
	// the account.
	ErrPinHashNotFound = errors.New("no PIN registered for account")

	// ErrQRCodeNotFound is returned when a scanned code is unknown, already
	// consumed, or expired.
	ErrQRCodeNotFound = errors.New("invalid or expired QR code")
)
