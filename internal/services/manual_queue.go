package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"evalhub/internal/models"

	"github.com/google/uuid"
)

// ErrEntryNotFound is returned when a confirmation handle matches no
// queued entry (already confirmed, or never existed).
var ErrEntryNotFound = errors.New("manual delivery entry not found")

// ManualDeliveryEntry is one recipient waiting for human hand-off. The
// instructions block is ready to paste into an email, SMS or call script.
type ManualDeliveryEntry struct {
	Handle         string    `json:"handle"`
	RecipientName  string    `json:"recipient_name"`
	RecipientEmail string    `json:"recipient_email"`
	Instructions   string    `json:"instructions"`
	SessionID      uint      `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// ManualDeliveryQueue stages recipients whose automated delivery failed
// until an administrator confirms the hand-off. It is created per batch and
// owned by the batch result; entries never expire on their own.
type ManualDeliveryQueue struct {
	mu       sync.Mutex
	entries  []ManualDeliveryEntry
	sessions SessionStore
	audit    AuditSink
	now      func() time.Time
}

func NewManualDeliveryQueue(sessions SessionStore, audit AuditSink) *ManualDeliveryQueue {
	return &ManualDeliveryQueue{
		sessions: sessions,
		audit:    audit,
		now:      time.Now,
	}
}

// Add appends an entry and returns it with a fresh confirmation handle.
func (q *ManualDeliveryQueue) Add(name, email, instructions string, sessionID uint) ManualDeliveryEntry {
	entry := ManualDeliveryEntry{
		Handle:         uuid.NewString(),
		RecipientName:  name,
		RecipientEmail: email,
		Instructions:   instructions,
		SessionID:      sessionID,
		CreatedAt:      q.now(),
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.mu.Unlock()
	return entry
}

func (q *ManualDeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Next returns the head of the queue without removing it; administrators
// work through entries one at a time.
func (q *ManualDeliveryQueue) Next() (ManualDeliveryEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return ManualDeliveryEntry{}, false
	}
	return q.entries[0], true
}

// Entries returns a snapshot of the queue in FIFO order.
func (q *ManualDeliveryQueue) Entries() []ManualDeliveryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ManualDeliveryEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Confirm marks the underlying session as notified via the manual channel,
// audit-stamps the hand-off and removes the entry. If the notified stamp
// cannot be written the entry stays queued so the administrator can retry.
func (q *ManualDeliveryQueue) Confirm(ctx context.Context, handle string, actorID uint) error {
	// The entry is taken out of the queue before any side effect runs, so
	// a concurrent confirm of the same handle gets ErrEntryNotFound
	// instead of a second stamp and audit event.
	entry, idx, ok := q.take(handle)
	if !ok {
		return ErrEntryNotFound
	}

	if err := q.sessions.MarkNotified(ctx, entry.SessionID, "manual", []string{entry.RecipientEmail}, q.now()); err != nil {
		q.putBack(entry, idx)
		return err
	}

	q.audit.Emit(models.AuditEvent{
		ActorID:      actorID,
		SubjectEmail: entry.RecipientEmail,
		Activity:     models.AuditManualDelivery,
		NewValue:     "confirmed",
		Metadata:     map[string]string{"session_id": strconv.FormatUint(uint64(entry.SessionID), 10)},
		At:           q.now(),
	})
	return nil
}

// take removes and returns the entry with the given handle along with its
// position, all under one lock.
func (q *ManualDeliveryQueue) take(handle string) (ManualDeliveryEntry, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].Handle == handle {
			entry := q.entries[i]
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return entry, i, true
		}
	}
	return ManualDeliveryEntry{}, 0, false
}

// putBack restores an entry whose confirmation failed, at its old position
// so the FIFO order the administrator sees is stable.
func (q *ManualDeliveryQueue) putBack(entry ManualDeliveryEntry, idx int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx > len(q.entries) {
		idx = len(q.entries)
	}
	q.entries = append(q.entries[:idx], append([]ManualDeliveryEntry{entry}, q.entries[idx:]...)...)
}
