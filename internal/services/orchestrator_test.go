package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"evalhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var battery = models.TestDefinition{
	ID:              "cognitive-battery-v2",
	Name:            "Cognitive Battery",
	AttemptsAllowed: 1,
	DurationMinutes: 45,
}

type orchFixture struct {
	directory  *fakeDirectory
	sessions   *fakeSessionStore
	issuer     Issuer
	dispatcher *fakeDispatcher
	audit      *captureAudit
}

func newFixture(users ...models.User) *orchFixture {
	return &orchFixture{
		directory:  newFakeDirectory(users...),
		sessions:   newFakeSessionStore(),
		issuer:     stubIssuer{},
		dispatcher: &fakeDispatcher{},
		audit:      &captureAudit{},
	}
}

func (f *orchFixture) orchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:5060"
	}
	return NewOrchestrator(zap.NewNop(), f.directory, f.sessions, f.issuer, f.dispatcher, f.audit, opts)
}

func activeUser(id uint, email, first, last string) models.User {
	return models.User{ID: id, Email: email, FirstName: first, LastName: last, Active: true}
}

func TestAssignRegisteredSuccess(t *testing.T) {
	f := newFixture(activeUser(1, "alice@co.com", "Alice", "Reed"))
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery, []RecipientRef{{UserID: 1}}, 99)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)

	out := result.Outcomes[0]
	assert.True(t, out.Success)
	assert.False(t, out.RequiresManualDelivery)
	assert.Empty(t, out.ErrorClass)
	assert.Equal(t, "alice@co.com", out.RecipientEmail)
	assert.Equal(t, "Alice Reed", out.RecipientName)
	assert.Equal(t, "eval-stub1234", out.CredentialUsername)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.NeedsManual)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Manual.Len())

	// Session exists, is pending and was stamped as notified by email.
	session := f.sessions.get(out.SessionID)
	require.NotNil(t, session)
	assert.Equal(t, models.SessionPending, session.Status)
	assert.Equal(t, battery.AttemptsAllowed, session.AttemptsAllowed)
	assert.NotEmpty(t, session.AccessToken)
	require.NotNil(t, session.NotifiedAt)
	assert.Equal(t, "email", session.NotifiedVia)

	// The message carries the link and the credentials.
	msg := f.dispatcher.sentTo("alice@co.com")
	require.NotNil(t, msg)
	assert.Contains(t, msg.Body, session.AccessToken)
	assert.Contains(t, msg.Body, "eval-stub1234")

	// Compliance trail: attempts reset plus assignment created.
	resets := f.audit.byActivity(models.AuditAttemptsReset)
	require.Len(t, resets, 1)
	assert.Equal(t, uint(99), resets[0].ActorID)
	assert.Equal(t, "0", resets[0].NewValue)
	assert.Len(t, f.audit.byActivity(models.AuditAssignmentCreated), 1)
}

func TestAssignPartialFailureIsolation(t *testing.T) {
	f := newFixture(
		activeUser(1, "one@co.com", "One", "User"),
		activeUser(2, "two@co.com", "Two", "User"),
		activeUser(3, "three@co.com", "Three", "User"),
	)
	f.dispatcher.failFor = map[string]error{"two@co.com": errors.New("smtp timeout")}
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery,
		[]RecipientRef{{UserID: 1}, {UserID: 2}, {UserID: 3}}, 99)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)

	assert.True(t, result.Outcomes[0].Success)
	assert.False(t, result.Outcomes[0].RequiresManualDelivery)
	assert.True(t, result.Outcomes[2].Success)
	assert.False(t, result.Outcomes[2].RequiresManualDelivery)

	// The failed dispatch degrades into manual delivery, not a hard
	// failure: the session and credential are still usable.
	mid := result.Outcomes[1]
	assert.True(t, mid.RequiresManualDelivery)
	assert.Empty(t, mid.ErrorClass)
	assert.NotEmpty(t, mid.Instructions)
	assert.NotEmpty(t, mid.ManualHandle)
	require.NotNil(t, f.sessions.get(mid.SessionID))

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.NeedsManual)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.Manual.Len())
}

func TestAssignExternalRecipient(t *testing.T) {
	f := newFixture()
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery,
		[]RecipientRef{{Email: "external@other.com"}}, 99)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 1)

	out := result.Outcomes[0]
	assert.True(t, out.RequiresManualDelivery)
	assert.Empty(t, out.ErrorClass)
	assert.Empty(t, out.CredentialUsername)

	// Link-only instruction sheet: the access link, never credentials.
	session := f.sessions.get(out.SessionID)
	require.NotNil(t, session)
	assert.True(t, session.External())
	assert.Contains(t, out.Instructions, session.AccessToken)
	assert.NotContains(t, out.Instructions, "Username:")

	// Nothing is dispatched for external recipients.
	assert.Nil(t, f.dispatcher.sentTo("external@other.com"))
	assert.Equal(t, 1, result.Manual.Len())
}

func TestAssignMixedBatch(t *testing.T) {
	f := newFixture(activeUser(1, "alice@co.com", "Alice", "Reed"))
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery,
		[]RecipientRef{{Email: "alice@co.com"}, {Email: "external@other.com"}}, 99)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.NeedsManual)
	assert.Equal(t, 0, result.Failed)

	alice := result.Outcomes[0]
	assert.True(t, alice.Success)
	assert.NotEmpty(t, alice.CredentialUsername)

	external := result.Outcomes[1]
	assert.True(t, external.RequiresManualDelivery)
	assert.Empty(t, external.CredentialUsername)
}

func TestAssignValidationFailure(t *testing.T) {
	f := newFixture(
		activeUser(1, "stuck@co.com", "Stuck", "User"),
		activeUser(2, "fine@co.com", "Fine", "User"),
	)
	f.sessions.forcedLive = map[string]int64{pairKey("stuck@co.com", battery.ID): 1}
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery,
		[]RecipientRef{{UserID: 1}, {UserID: 2}}, 99)
	require.NoError(t, err)

	stuck := result.Outcomes[0]
	assert.False(t, stuck.Success)
	assert.Equal(t, models.ErrClassValidationFailed, stuck.ErrorClass)

	// The batch keeps going.
	assert.True(t, result.Outcomes[1].Success)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Succeeded)
}

func TestAssignSessionCreateFailureStillAudits(t *testing.T) {
	f := newFixture(activeUser(1, "alice@co.com", "Alice", "Reed"))
	f.sessions.createErr = errors.New("insert failed")
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery, []RecipientRef{{UserID: 1}}, 99)
	require.NoError(t, err)

	out := result.Outcomes[0]
	assert.False(t, out.Success)
	assert.Equal(t, models.ErrClassWriteFailed, out.ErrorClass)

	// The attempts-reset entry from the reset-and-log step is present
	// even though session creation failed afterwards.
	resets := f.audit.byActivity(models.AuditAttemptsReset)
	require.Len(t, resets, 1)
	assert.Equal(t, "alice@co.com", resets[0].SubjectEmail)
}

func TestAssignCredentialFailureFallsBackToLinkOnly(t *testing.T) {
	f := newFixture(activeUser(1, "alice@co.com", "Alice", "Reed"))
	f.issuer = stubIssuer{err: errors.New("credential store down")}
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery, []RecipientRef{{UserID: 1}}, 99)
	require.NoError(t, err)

	out := result.Outcomes[0]
	assert.True(t, out.Success)
	assert.Empty(t, out.CredentialUsername)

	msg := f.dispatcher.sentTo("alice@co.com")
	require.NotNil(t, msg)
	assert.NotContains(t, msg.Body, "Username:")
}

func TestAssignReplacesPriorSession(t *testing.T) {
	f := newFixture(activeUser(1, "alice@co.com", "Alice", "Reed"))
	f.sessions.seed(models.Session{
		TestID:         battery.ID,
		RecipientEmail: "alice@co.com",
		Status:         models.SessionStarted,
		AttemptsTaken:  2,
	})
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery, []RecipientRef{{UserID: 1}}, 99)
	require.NoError(t, err)
	assert.True(t, result.Outcomes[0].Success)

	// The audit trail records the counter that was torn down.
	resets := f.audit.byActivity(models.AuditAttemptsReset)
	require.Len(t, resets, 1)
	assert.Equal(t, "2", resets[0].PreviousValue)
	assert.Equal(t, "0", resets[0].NewValue)

	// Exactly one live session remains for the pair.
	live := f.sessions.liveFor("alice@co.com", battery.ID)
	require.Len(t, live, 1)
	assert.Equal(t, 0, live[0].AttemptsTaken)
}

func TestAssignRecipientNotFound(t *testing.T) {
	f := newFixture()
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery, []RecipientRef{{UserID: 42}}, 99)
	require.NoError(t, err)

	out := result.Outcomes[0]
	assert.False(t, out.Success)
	assert.Equal(t, models.ErrClassRecipientNotFound, out.ErrorClass)

	// Hard failure at resolution leaves no artifacts behind.
	assert.Empty(t, f.sessions.cleanupCalls)
	assert.Equal(t, 1, result.Failed)
}

func TestAssignIneligibleRecipient(t *testing.T) {
	restricted := activeUser(1, "blocked@co.com", "Blocked", "User")
	restricted.AccessRestricted = true
	f := newFixture(restricted)
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery, []RecipientRef{{UserID: 1}}, 99)
	require.NoError(t, err)

	out := result.Outcomes[0]
	assert.False(t, out.Success)
	assert.Equal(t, models.ErrClassRecipientIneligible, out.ErrorClass)
	assert.Empty(t, f.sessions.cleanupCalls)
}

func TestAssignOutcomeOrderWithParallelism(t *testing.T) {
	users := []models.User{
		activeUser(1, "a@co.com", "A", ""),
		activeUser(2, "b@co.com", "B", ""),
		activeUser(3, "c@co.com", "C", ""),
		activeUser(4, "d@co.com", "D", ""),
		activeUser(5, "e@co.com", "E", ""),
	}
	f := newFixture(users...)
	orch := f.orchestrator(OrchestratorOptions{Parallelism: 3})

	refs := []RecipientRef{{UserID: 1}, {UserID: 2}, {UserID: 3}, {UserID: 4}, {UserID: 5}}
	result, err := orch.Assign(context.Background(), &battery, refs, 99)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 5)

	// Outcomes stay in request order regardless of worker scheduling.
	for i, u := range users {
		assert.Equal(t, u.Email, result.Outcomes[i].RecipientEmail)
		assert.True(t, result.Outcomes[i].Success)
	}
	assert.Equal(t, 5, result.Succeeded)
}

func TestAssignNilTest(t *testing.T) {
	f := newFixture()
	orch := f.orchestrator(OrchestratorOptions{})

	_, err := orch.Assign(context.Background(), nil, []RecipientRef{{UserID: 1}}, 99)
	assert.Error(t, err)
}

func TestAssignCleanupIdempotentForEmptyPair(t *testing.T) {
	f := newFixture(activeUser(1, "fresh@co.com", "Fresh", "User"))
	orch := f.orchestrator(OrchestratorOptions{})

	// No prior records: cleanup is a no-op and the run succeeds.
	result, err := orch.Assign(context.Background(), &battery, []RecipientRef{{UserID: 1}}, 99)
	require.NoError(t, err)
	assert.True(t, result.Outcomes[0].Success)

	resets := f.audit.byActivity(models.AuditAttemptsReset)
	require.Len(t, resets, 1)
	assert.Equal(t, "0", resets[0].PreviousValue)

	// A second run tears down the first session and creates a new one.
	result2, err := orch.Assign(context.Background(), &battery, []RecipientRef{{UserID: 1}}, 99)
	require.NoError(t, err)
	assert.True(t, result2.Outcomes[0].Success)
	assert.Len(t, f.sessions.liveFor("fresh@co.com", battery.ID), 1)
}

func TestAssignPanicOutcomeKeepsIdentity(t *testing.T) {
	f := newFixture(
		activeUser(1, "boom@co.com", "Boom", "User"),
		activeUser(2, "calm@co.com", "Calm", "User"),
	)
	f.sessions.cleanupPanic = "boom@co.com"
	orch := f.orchestrator(OrchestratorOptions{})

	result, err := orch.Assign(context.Background(), &battery,
		[]RecipientRef{{UserID: 1}, {UserID: 2}}, 99)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)

	// The panicking recipient fails with its identity intact.
	out := result.Outcomes[0]
	assert.False(t, out.Success)
	assert.Equal(t, models.ErrClassWriteFailed, out.ErrorClass)
	assert.Equal(t, "boom@co.com", out.RecipientEmail)
	assert.Equal(t, "Boom User", out.RecipientName)

	// The rest of the batch is unaffected.
	assert.True(t, result.Outcomes[1].Success)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
}

func TestDispatchTimeoutApplied(t *testing.T) {
	f := newFixture(activeUser(1, "slow@co.com", "Slow", "User"))
	slow := &slowDispatcher{delay: 200 * time.Millisecond}
	orch := NewOrchestrator(zap.NewNop(), f.directory, f.sessions, f.issuer, slow, f.audit,
		OrchestratorOptions{BaseURL: "http://x", DispatchTimeout: 20 * time.Millisecond})

	result, err := orch.Assign(context.Background(), &battery, []RecipientRef{{UserID: 1}}, 99)
	require.NoError(t, err)

	// A dispatch timeout is a manual-delivery case, not a hard failure.
	out := result.Outcomes[0]
	assert.True(t, out.RequiresManualDelivery)
	assert.Empty(t, out.ErrorClass)
}

type slowDispatcher struct{ delay time.Duration }

func (d *slowDispatcher) Send(ctx context.Context, msg OutboundMessage) error {
	select {
	case <-time.After(d.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
