package services

import (
	"context"
	"sync"
	"time"

	"evalhub/internal/models"
)

// In-memory collaborator fakes shared by the service tests.

type fakeDirectory struct {
	users    map[uint]models.User
	byEmail  map[string]models.User
	idsErr   error
	emailErr error
}

func newFakeDirectory(users ...models.User) *fakeDirectory {
	d := &fakeDirectory{
		users:   make(map[uint]models.User),
		byEmail: make(map[string]models.User),
	}
	for _, u := range users {
		d.users[u.ID] = u
		d.byEmail[u.Email] = u
	}
	return d
}

func (d *fakeDirectory) LookupByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	if d.idsErr != nil {
		return nil, d.idsErr
	}
	var out []models.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *fakeDirectory) LookupByEmail(ctx context.Context, email string) (*models.User, error) {
	if d.emailErr != nil {
		return nil, d.emailErr
	}
	if u, ok := d.byEmail[email]; ok {
		return &u, nil
	}
	return nil, nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	nextID   uint
	sessions map[uint]*models.Session

	cleanupErr   error
	countErr     error
	createErr    error
	notifyErr    error
	incrementErr error
	cleanupPanic string
	forcedLive   map[string]int64
	cleanupCalls []string
	notifyCalls  int

	// pendingOverride, when set, is returned verbatim by
	// PendingForReminder to simulate a stale sweep list.
	pendingOverride []models.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uint]*models.Session)}
}

func pairKey(email, testID string) string { return email + "|" + testID }

func (s *fakeSessionStore) seed(session models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	session.ID = s.nextID
	s.sessions[session.ID] = &session
}

func (s *fakeSessionStore) Cleanup(ctx context.Context, email, testID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupCalls = append(s.cleanupCalls, pairKey(email, testID))
	if s.cleanupPanic != "" && s.cleanupPanic == email {
		panic("session store corrupted")
	}
	if s.cleanupErr != nil {
		return 0, s.cleanupErr
	}
	prev := 0
	for id, session := range s.sessions {
		if session.RecipientEmail == email && session.TestID == testID {
			if session.Live() {
				prev = session.AttemptsTaken
			}
			delete(s.sessions, id)
		}
	}
	return prev, nil
}

func (s *fakeSessionStore) CountLive(ctx context.Context, email, testID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	if n, ok := s.forcedLive[pairKey(email, testID)]; ok {
		return n, nil
	}
	var count int64
	for _, session := range s.sessions {
		if session.RecipientEmail == email && session.TestID == testID && session.Live() {
			count++
		}
	}
	return count, nil
}

func (s *fakeSessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	session.ID = s.nextID
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *fakeSessionStore) MarkNotified(ctx context.Context, id uint, via string, addresses []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifyErr != nil {
		return s.notifyErr
	}
	s.notifyCalls++
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	session.NotifiedAt = &at
	session.NotifiedVia = via
	session.NotifiedAddresses = addresses
	return nil
}

func (s *fakeSessionStore) PendingForReminder(ctx context.Context, before time.Time, maxReminders int) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingOverride != nil {
		return s.pendingOverride, nil
	}
	var out []models.Session
	for _, session := range s.sessions {
		if session.Status == models.SessionPending && session.NotifiedVia == "email" &&
			session.NotifiedAt != nil && session.NotifiedAt.Before(before) &&
			session.RemindersSent < maxReminders {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (s *fakeSessionStore) IncrementReminders(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incrementErr != nil {
		return s.incrementErr
	}
	if session, ok := s.sessions[id]; ok {
		session.RemindersSent++
	}
	return nil
}

func (s *fakeSessionStore) get(id uint) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *fakeSessionStore) liveFor(email, testID string) []*models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if session.RecipientEmail == email && session.TestID == testID && session.Live() {
			out = append(out, session)
		}
	}
	return out
}

type fakeCredentialStore struct {
	mu        sync.Mutex
	nextID    uint
	creds     []*models.Credential
	findErr   error
	insertErr error
}

func (s *fakeCredentialStore) FindValid(ctx context.Context, email, testID string, now time.Time) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for i := len(s.creds) - 1; i >= 0; i-- {
		c := s.creds[i]
		if c.RecipientEmail == email && c.TestID == testID && c.Valid(now) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeCredentialStore) Insert(ctx context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.nextID++
	cred.ID = s.nextID
	copied := *cred
	s.creds = append(s.creds, &copied)
	return nil
}

type stubIssuer struct {
	cred *models.Credential
	err  error
}

func (s stubIssuer) IssueOrReuse(ctx context.Context, email, testID string) (*models.Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.cred != nil {
		return s.cred, nil
	}
	return &models.Credential{
		RecipientEmail: email,
		TestID:         testID,
		Username:       "eval-stub1234",
		Secret:         "stub-secret",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}, nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []OutboundMessage
	failFor map[string]error
}

func (d *fakeDispatcher) Send(ctx context.Context, msg OutboundMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(msg.To) > 0 {
		if err, ok := d.failFor[msg.To[0]]; ok {
			return err
		}
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *fakeDispatcher) sentTo(email string) *OutboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.sent {
		for _, to := range d.sent[i].To {
			if to == email {
				return &d.sent[i]
			}
		}
	}
	return nil
}

type captureAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *captureAudit) Emit(ev models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *captureAudit) byActivity(activity string) []models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditEvent
	for _, ev := range a.events {
		if ev.Activity == activity {
			out = append(out, ev)
		}
	}
	return out
}
