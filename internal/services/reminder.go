package services

import (
	"context"
	"strconv"
	"time"

	"evalhub/internal/models"

	"go.uber.org/zap"
)

// ReminderStore is the session-side view the reminder sweep needs.
type ReminderStore interface {
	// PendingForReminder lists pending sessions notified before the
	// cutoff that still have reminder budget left.
	PendingForReminder(ctx context.Context, before time.Time, maxReminders int) ([]models.Session, error)
	// GetSession returns (nil, nil) when no session with that id exists.
	GetSession(ctx context.Context, id uint) (*models.Session, error)
	IncrementReminders(ctx context.Context, id uint) error
}

// ReminderOptions tunes the sweep; values come from the reminder config
// section.
type ReminderOptions struct {
	Enabled      bool
	Interval     time.Duration
	After        time.Duration
	MaxReminders int
	BaseURL      string
}

// ReminderService periodically re-notifies recipients whose sessions are
// still pending. Each sweep sends at most one reminder per session and the
// per-session reminder budget is a hard cap; failures are logged and picked
// up by a later sweep.
type ReminderService struct {
	log        *zap.Logger
	sessions   ReminderStore
	creds      CredentialStore
	dispatcher Dispatcher
	catalog    *models.TestCatalog
	audit      AuditSink
	opts       ReminderOptions
	now        func() time.Time
	stop       chan struct{}
}

func NewReminderService(log *zap.Logger, sessions ReminderStore, creds CredentialStore, dispatcher Dispatcher, catalog *models.TestCatalog, audit AuditSink, opts ReminderOptions) *ReminderService {
	return &ReminderService{
		log:        log,
		sessions:   sessions,
		creds:      creds,
		dispatcher: dispatcher,
		catalog:    catalog,
		audit:      audit,
		opts:       opts,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine.
func (s *ReminderService) Start() {
	if !s.opts.Enabled {
		s.log.Info("Reminder sweep disabled by configuration")
		return
	}

	s.log.Info("Starting reminder sweep",
		zap.Duration("interval", s.opts.Interval),
	)
	go func() {
		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runSweep()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *ReminderService) Stop() {
	close(s.stop)
}

func (s *ReminderService) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.opts.After)
	sessions, err := s.sessions.PendingForReminder(ctx, cutoff, s.opts.MaxReminders)
	if err != nil {
		s.log.Error("Failed to list sessions for reminder", zap.Error(err))
		return
	}

	for _, session := range sessions {
		s.remind(ctx, session.ID)
	}
}

func (s *ReminderService) remind(ctx context.Context, sessionID uint) {
	// The sweep list may be stale by the time this session's turn comes;
	// re-read it and skip anything that completed or exhausted its budget
	// in the meantime.
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		s.log.Error("Session lookup failed during reminder", zap.Error(err), zap.Uint("sessionID", sessionID))
		return
	}
	if session == nil || session.Status != models.SessionPending || session.RemindersSent >= s.opts.MaxReminders {
		return
	}

	test := s.catalog.Find(session.TestID)
	if test == nil {
		// Catalog entry was removed since assignment; nothing sensible
		// to send.
		s.log.Warn("Skipping reminder for unknown test",
			zap.String("testID", session.TestID),
			zap.Uint("sessionID", session.ID),
		)
		return
	}

	// Reuse the pair's credential when it is still valid so the reminder
	// carries the same sign-in details as the original notification.
	cred, err := s.creds.FindValid(ctx, session.RecipientEmail, session.TestID, s.now())
	if err != nil {
		s.log.Error("Credential lookup failed during reminder", zap.Error(err))
		return
	}

	// Reserve the budget before sending. If the counter cannot be
	// advanced the reminder is skipped entirely; a send whose counter
	// write failed would otherwise repeat on every sweep past the cap.
	if err := s.sessions.IncrementReminders(ctx, session.ID); err != nil {
		s.log.Error("Failed to record reminder", zap.Error(err), zap.Uint("sessionID", session.ID))
		return
	}

	link := accessLink(s.opts.BaseURL, session.AccessToken)
	err = s.dispatcher.Send(ctx, OutboundMessage{
		To:      []string{session.RecipientEmail},
		Subject: BuildReminderSubject(test),
		Body:    BuildInstructions(test, link, cred),
		Metadata: map[string]string{
			"test_id":    test.ID,
			"session_id": strconv.FormatUint(uint64(session.ID), 10),
			"reminder":   "true",
		},
	})
	if err != nil {
		// The reserved slot is spent. Dropping the send is the cheaper
		// failure mode than risking an unbounded re-send.
		s.log.Warn("Reminder dispatch failed",
			zap.Error(err),
			zap.String("email", session.RecipientEmail),
			zap.Uint("sessionID", session.ID),
		)
		return
	}

	s.audit.Emit(models.AuditEvent{
		SubjectEmail: session.RecipientEmail,
		Activity:     models.AuditReminderSent,
		NewValue:     strconv.Itoa(session.RemindersSent + 1),
		Metadata:     map[string]string{"test_id": test.ID},
		At:           s.now(),
	})
}
