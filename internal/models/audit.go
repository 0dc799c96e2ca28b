package models

import "time"

// Audit activity types written by the assignment pipeline.
const (
	AuditAttemptsReset     = "assignment.attempts_reset"
	AuditAssignmentCreated = "assignment.created"
	AuditManualDelivery    = "assignment.manual_delivery"
	AuditReminderSent      = "assignment.reminder_sent"
)

// AuditEvent is emitted from the pipeline to capture administrative actions.
// It is transport-agnostic so sinks can persist or fan out without the
// pipeline caring where it lands.
type AuditEvent struct {
	ActorID       uint
	SubjectEmail  string
	Activity      string
	PreviousValue string
	NewValue      string
	Metadata      map[string]string
	At            time.Time
}

// AuditEntry is the persisted form of an AuditEvent. Metadata is stored as a
// JSON blob; compliance queries only ever filter on the indexed columns.
type AuditEntry struct {
	ID            uint   `gorm:"primaryKey"`
	ActorID       uint   `gorm:"index"`
	SubjectEmail  string `gorm:"size:255;index"`
	Activity      string `gorm:"size:64;index"`
	PreviousValue string
	NewValue      string
	Metadata      string `gorm:"type:text"`
	CreatedAt     time.Time
}
