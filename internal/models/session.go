package models

import (
	"time"

	"github.com/lib/pq"
)

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionStarted   SessionStatus = "started"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// Session is one evaluee's attempt lifecycle for a given test. At most one
// non-terminal session may exist per (recipient_email, test_id) pair; a
// partial unique index created in database.runMigrations enforces this.
type Session struct {
	ID     uint   `gorm:"primaryKey"`
	TestID string `gorm:"size:64;not null;index:idx_sessions_pair"`
	// RecipientID is nil for external recipients, who exist only as an
	// address and never get directory records.
	RecipientID       *uint
	RecipientEmail    string        `gorm:"size:255;not null;index:idx_sessions_pair"`
	Status            SessionStatus `gorm:"size:16;not null;default:'pending'"`
	AttemptsTaken     int
	AttemptsAllowed   int
	AccessToken       string `gorm:"size:64;uniqueIndex"`
	NotifiedAt        *time.Time
	NotifiedVia       string         `gorm:"size:16"` // "email" or "manual"
	NotifiedAddresses pq.StringArray `gorm:"type:text[]"`
	RemindersSent     int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Live reports whether the session is non-terminal.
func (s *Session) Live() bool {
	return s.Status == SessionPending || s.Status == SessionStarted
}

// External reports whether the session belongs to an address with no
// directory record.
func (s *Session) External() bool {
	return s.RecipientID == nil
}
