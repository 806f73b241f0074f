package model

import "time"

// QrCodeSession is one issued scan token. Active while now < ExpiresAt.
type QrCodeSession struct {
	ID        string     `json:"id"`
	Token     string     `json:"token"`
	Session   SessionRef `json:"session"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the token is no longer accepted. Expiry is inclusive.
func (q QrCodeSession) Expired(now time.Time) bool { return !now.Before(q.ExpiresAt) }

// ScanStatus is the outcome of presenting a token.
type ScanStatus string

const (
	ScanPresent   ScanStatus = "present"
	ScanInvalid   ScanStatus = "invalid"
	ScanDuplicate ScanStatus = "duplicate"
)

// QrCodeScan is an append-only record of one scan attempt.
type QrCodeScan struct {
	ID          string            `json:"id"`
	QrSessionID string            `json:"qr_session_id"`
	Session     SessionRef        `json:"session"`
	StudentID   string            `json:"student_id"`
	ScannedAt   time.Time         `json:"scanned_at"`
	Status      ScanStatus        `json:"status"`
	Meta        map[string]string `json:"meta,omitempty"`
}
