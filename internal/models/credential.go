package models

import "time"

// Credential is a one-time (username, secret) pair scoped to a
// (recipient email, test) tuple. A valid credential is never overwritten;
// re-issuing returns the existing pair so links already sent keep working.
type Credential struct {
	ID             uint   `gorm:"primaryKey"`
	RecipientEmail string `gorm:"size:255;not null;index:idx_credentials_pair"`
	TestID         string `gorm:"size:64;not null;index:idx_credentials_pair"`
	Username       string `gorm:"size:64;uniqueIndex;not null"`
	Secret         string `gorm:"size:128;not null"`
	ExpiresAt      time.Time
	// UsedAt is stamped by the exam login flow on first successful
	// authentication.
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Valid reports whether the credential can still be handed out.
func (c *Credential) Valid(now time.Time) bool {
	return c.UsedAt == nil && now.Before(c.ExpiresAt)
}
