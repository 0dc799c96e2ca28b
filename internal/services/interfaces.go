package services

import (
	"context"
	"time"

	"evalhub/internal/models"
)

// Collaborator boundaries of the assignment pipeline. Production wiring
// uses the gorm adapters in internal/repository and the SMTP Mailer; tests
// substitute in-memory fakes.

// Directory is the read-only source of recipient identity and eligibility.
type Directory interface {
	LookupByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	// LookupByEmail returns (nil, nil) when the address has no directory
	// record; that recipient is treated as external.
	LookupByEmail(ctx context.Context, email string) (*models.User, error)
}

// SessionStore is the persistent record of attempt sessions.
type SessionStore interface {
	// Cleanup deletes every session for the pair and reports the attempt
	// counter of the live session it tore down (0 if none existed).
	// Running it on a pair with no records is a no-op.
	Cleanup(ctx context.Context, email, testID string) (int, error)
	CountLive(ctx context.Context, email, testID string) (int64, error)
	Create(ctx context.Context, session *models.Session) error
	MarkNotified(ctx context.Context, id uint, via string, addresses []string, at time.Time) error
}

// CredentialStore backs the credential issuer.
type CredentialStore interface {
	// FindValid returns (nil, nil) when no reusable credential exists.
	FindValid(ctx context.Context, email, testID string, now time.Time) (*models.Credential, error)
	Insert(ctx context.Context, cred *models.Credential) error
}

// Issuer mints or reuses one-time credentials.
type Issuer interface {
	IssueOrReuse(ctx context.Context, email, testID string) (*models.Credential, error)
}

// OutboundMessage is one notification handed to the dispatcher.
type OutboundMessage struct {
	To       []string
	Subject  string
	Body     string
	Metadata map[string]string
}

// Dispatcher sends a recipient-facing message. A single attempt; failures
// degrade into the manual-delivery path, never into retries.
type Dispatcher interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// AuditSink receives audit events from the pipeline. Emit must never block
// or fail; persistence problems belong to the sink, not the pipeline.
type AuditSink interface {
	Emit(ev models.AuditEvent)
}
