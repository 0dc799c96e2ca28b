package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"evalhub/internal/models"
	"evalhub/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RecipientRef is one requested assignment target: either a directory user
// id or a raw address. Exactly one of the two should be set.
type RecipientRef struct {
	UserID uint   `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// BatchResult aggregates one orchestration run. The manual-delivery queue
// is part of the result and owned by the caller; there is no shared global
// queue.
type BatchResult struct {
	BatchID     string
	Test        models.TestDefinition
	RequestedBy uint
	Outcomes    []models.AssignmentOutcome
	Manual      *ManualDeliveryQueue

	Succeeded   int
	NeedsManual int
	Failed      int
}

// OrchestratorOptions tunes a single orchestrator instance.
type OrchestratorOptions struct {
	// BaseURL prefixes exam access links.
	BaseURL string
	// Parallelism bounds concurrent recipient processing; values < 1
	// mean sequential.
	Parallelism int
	// DispatchTimeout caps one notification attempt.
	DispatchTimeout time.Duration
}

// Orchestrator coordinates the per-recipient assignment pipeline: cleanup,
// attempts-reset audit, validation, session + credential creation, dispatch
// and outcome classification. Recipients are independent units of work; one
// recipient's failure never aborts the batch.
type Orchestrator struct {
	log        *zap.Logger
	directory  Directory
	sessions   SessionStore
	issuer     Issuer
	dispatcher Dispatcher
	audit      AuditSink
	opts       OrchestratorOptions
	now        func() time.Time
}

func NewOrchestrator(log *zap.Logger, directory Directory, sessions SessionStore, issuer Issuer, dispatcher Dispatcher, audit AuditSink, opts OrchestratorOptions) *Orchestrator {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 15 * time.Second
	}
	return &Orchestrator{
		log:        log,
		directory:  directory,
		sessions:   sessions,
		issuer:     issuer,
		dispatcher: dispatcher,
		audit:      audit,
		opts:       opts,
		now:        time.Now,
	}
}

// Assign runs the pipeline for every recipient and returns one outcome per
// recipient, in request order. The returned error covers only malformed
// input; per-recipient problems are reported inside the outcomes.
func (o *Orchestrator) Assign(ctx context.Context, test *models.TestDefinition, refs []RecipientRef, requestedBy uint) (*BatchResult, error) {
	if test == nil {
		return nil, errors.New("assign: nil test definition")
	}

	result := &BatchResult{
		BatchID:     uuid.NewString(),
		Test:        *test,
		RequestedBy: requestedBy,
		Outcomes:    make([]models.AssignmentOutcome, len(refs)),
		Manual:      NewManualDeliveryQueue(o.sessions, o.audit),
	}

	// One directory round-trip for all id-based refs.
	usersByID, dirErr := o.resolveIDs(ctx, refs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Parallelism)
	for i := range refs {
		i := i
		g.Go(func() error {
			result.Outcomes[i] = o.processRecipient(gctx, test, refs[i], usersByID, dirErr, requestedBy, result.Manual)
			return nil
		})
	}
	// Workers never return errors; Wait is only a join point.
	_ = g.Wait()

	for _, out := range result.Outcomes {
		switch {
		case out.RequiresManualDelivery:
			result.NeedsManual++
		case out.Success:
			result.Succeeded++
		default:
			result.Failed++
		}
	}

	o.log.Info("Assignment batch completed",
		zap.String("batchID", result.BatchID),
		zap.String("testID", test.ID),
		zap.Int("recipients", len(refs)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("needsManual", result.NeedsManual),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (o *Orchestrator) resolveIDs(ctx context.Context, refs []RecipientRef) (map[uint]*models.User, error) {
	ids := make([]uint, 0, len(refs))
	for _, ref := range refs {
		if ref.UserID != 0 {
			ids = append(ids, ref.UserID)
		}
	}
	if len(ids) == 0 {
		return map[uint]*models.User{}, nil
	}

	users, err := o.directory.LookupByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	return byID, nil
}

// processRecipient is the per-recipient boundary: every failure inside it,
// panics included, is converted into an outcome and never escapes.
func (o *Orchestrator) processRecipient(ctx context.Context, test *models.TestDefinition, ref RecipientRef, usersByID map[uint]*models.User, dirErr error, requestedBy uint, queue *ManualDeliveryQueue) (out models.AssignmentOutcome) {
	// Identity for the panic outcome; starts from the ref and is refined
	// once the recipient resolves.
	email, name := ref.Email, ref.Email
	if ref.UserID != 0 && email == "" {
		name = fmt.Sprintf("user #%d", ref.UserID)
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Recipient pipeline panicked",
				zap.Any("panic", r),
				zap.String("testID", test.ID),
				zap.String("email", email),
				zap.Uint("userID", ref.UserID),
			)
			out = hardFailure(email, name, models.ErrClassWriteFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	recipient, failure := o.resolveRecipient(ctx, ref, usersByID, dirErr)
	if failure != nil {
		return *failure
	}
	email, name = recipient.Address, recipient.DisplayName()

	if recipient.Kind == models.RecipientExternal {
		return o.processExternal(ctx, test, recipient, requestedBy, queue)
	}
	return o.processRegistered(ctx, test, recipient, requestedBy, queue)
}

func (o *Orchestrator) resolveRecipient(ctx context.Context, ref RecipientRef, usersByID map[uint]*models.User, dirErr error) (models.Recipient, *models.AssignmentOutcome) {
	if ref.UserID != 0 {
		if dirErr != nil {
			out := hardFailure(ref.Email, "", models.ErrClassWriteFailed, "directory lookup failed: "+dirErr.Error())
			return models.Recipient{}, &out
		}
		user, ok := usersByID[ref.UserID]
		if !ok {
			out := hardFailure("", fmt.Sprintf("user #%d", ref.UserID), models.ErrClassRecipientNotFound, "no directory record for id")
			return models.Recipient{}, &out
		}
		if !user.Eligible() {
			out := hardFailure(user.Email, user.FullName(), models.ErrClassRecipientIneligible, "recipient is inactive or access-restricted")
			return models.Recipient{}, &out
		}
		return models.Recipient{Kind: models.RecipientRegistered, User: user, Address: user.Email}, nil
	}

	if !utils.IsValidEmail(ref.Email) {
		out := hardFailure(ref.Email, ref.Email, models.ErrClassRecipientNotFound, "not a valid contact address")
		return models.Recipient{}, &out
	}

	user, err := o.directory.LookupByEmail(ctx, ref.Email)
	if err != nil {
		out := hardFailure(ref.Email, ref.Email, models.ErrClassWriteFailed, "directory lookup failed: "+err.Error())
		return models.Recipient{}, &out
	}
	if user != nil {
		if !user.Eligible() {
			out := hardFailure(user.Email, user.FullName(), models.ErrClassRecipientIneligible, "recipient is inactive or access-restricted")
			return models.Recipient{}, &out
		}
		return models.Recipient{Kind: models.RecipientRegistered, User: user, Address: user.Email}, nil
	}
	return models.Recipient{Kind: models.RecipientExternal, Address: ref.Email}, nil
}

// processRegistered runs the full pipeline: force-cleanup, attempts-reset
// audit, post-cleanup validation, session + credential creation, dispatch.
func (o *Orchestrator) processRegistered(ctx context.Context, test *models.TestDefinition, recipient models.Recipient, requestedBy uint, queue *ManualDeliveryQueue) models.AssignmentOutcome {
	email := recipient.Address
	name := recipient.DisplayName()

	// Force-cleanup. Destructive and idempotent; guarantees the single
	// live session invariant before we recreate state.
	prevAttempts, err := o.sessions.Cleanup(ctx, email, test.ID)
	if err != nil {
		return hardFailure(email, name, models.ErrClassWriteFailed, "session cleanup failed: "+err.Error())
	}

	// The compliance trail is written regardless of whether the rest of
	// the pipeline succeeds.
	o.audit.Emit(models.AuditEvent{
		ActorID:       requestedBy,
		SubjectEmail:  email,
		Activity:      models.AuditAttemptsReset,
		PreviousValue: strconv.Itoa(prevAttempts),
		NewValue:      "0",
		Metadata:      map[string]string{"test_id": test.ID, "test_name": test.Name},
		At:            o.now(),
	})

	// Defensive double-check after cleanup. If a live session still
	// exists a concurrent run won the pair; fail this recipient only.
	live, err := o.sessions.CountLive(ctx, email, test.ID)
	if err != nil {
		return hardFailure(email, name, models.ErrClassWriteFailed, "session validation failed: "+err.Error())
	}
	if live > 0 {
		return hardFailure(email, name, models.ErrClassValidationFailed, "a live session still exists after cleanup")
	}

	session := &models.Session{
		TestID:          test.ID,
		RecipientID:     &recipient.User.ID,
		RecipientEmail:  email,
		Status:          models.SessionPending,
		AttemptsAllowed: test.AttemptsAllowed,
		AccessToken:     uuid.NewString(),
	}
	if err := o.sessions.Create(ctx, session); err != nil {
		// Partially created artifacts are left behind on purpose: the
		// next run's cleanup step removes them.
		return hardFailure(email, name, models.ErrClassWriteFailed, "session creation failed: "+err.Error())
	}

	// Credential minting failure is non-fatal; the message degrades to a
	// link-only form.
	cred, err := o.issuer.IssueOrReuse(ctx, email, test.ID)
	if err != nil {
		o.log.Warn("Credential issue failed, proceeding link-only",
			zap.Error(err),
			zap.String("email", email),
			zap.String("testID", test.ID),
		)
		cred = nil
	}

	link := accessLink(o.opts.BaseURL, session.AccessToken)
	instructions := BuildInstructions(test, link, cred)

	out := models.AssignmentOutcome{
		Success:        true,
		RecipientEmail: email,
		RecipientName:  name,
		SessionID:      session.ID,
	}
	if cred != nil {
		out.CredentialUsername = cred.Username
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, o.opts.DispatchTimeout)
	defer cancel()
	err = o.dispatcher.Send(dispatchCtx, OutboundMessage{
		To:      []string{email},
		Subject: BuildSubject(test),
		Body:    instructions,
		Metadata: map[string]string{
			"test_id":    test.ID,
			"session_id": strconv.FormatUint(uint64(session.ID), 10),
		},
	})
	if err != nil {
		// The notification channel failed but the artifacts are valid;
		// hand the recipient to the manual-delivery path instead of
		// failing them.
		o.log.Warn("Dispatch failed, queueing manual delivery",
			zap.Error(err),
			zap.String("email", email),
			zap.String("testID", test.ID),
		)
		entry := queue.Add(name, email, instructions, session.ID)
		out.RequiresManualDelivery = true
		out.Instructions = instructions
		out.ManualHandle = entry.Handle
		out.ErrorMessage = err.Error()
		o.emitCreated(requestedBy, email, test, session.ID, "manual_pending")
		return out
	}

	notifiedAt := o.now()
	if err := o.sessions.MarkNotified(ctx, session.ID, "email", []string{email}, notifiedAt); err != nil {
		// The recipient already has the message; losing the stamp is
		// log-worthy but not outcome-worthy.
		o.log.Warn("Failed to mark session notified",
			zap.Error(err),
			zap.Uint("sessionID", session.ID),
		)
	}
	o.emitCreated(requestedBy, email, test, session.ID, "email")
	return out
}

// processExternal handles addresses with no directory record: no
// credentials, a minimal link-only session, straight to manual delivery.
// Cleanup still runs so repeat assignments cannot stack live sessions.
func (o *Orchestrator) processExternal(ctx context.Context, test *models.TestDefinition, recipient models.Recipient, requestedBy uint, queue *ManualDeliveryQueue) models.AssignmentOutcome {
	email := recipient.Address

	if _, err := o.sessions.Cleanup(ctx, email, test.ID); err != nil {
		return hardFailure(email, email, models.ErrClassWriteFailed, "session cleanup failed: "+err.Error())
	}

	session := &models.Session{
		TestID:          test.ID,
		RecipientEmail:  email,
		Status:          models.SessionPending,
		AttemptsAllowed: test.AttemptsAllowed,
		AccessToken:     uuid.NewString(),
	}
	if err := o.sessions.Create(ctx, session); err != nil {
		return hardFailure(email, email, models.ErrClassWriteFailed, "session creation failed: "+err.Error())
	}

	link := accessLink(o.opts.BaseURL, session.AccessToken)
	instructions := BuildInstructions(test, link, nil)
	entry := queue.Add(email, email, instructions, session.ID)

	o.emitCreated(requestedBy, email, test, session.ID, "manual_pending")

	return models.AssignmentOutcome{
		Success:                true,
		RecipientEmail:         email,
		RecipientName:          email,
		RequiresManualDelivery: true,
		Instructions:           instructions,
		ManualHandle:           entry.Handle,
		SessionID:              session.ID,
	}
}

func (o *Orchestrator) emitCreated(actorID uint, email string, test *models.TestDefinition, sessionID uint, delivery string) {
	o.audit.Emit(models.AuditEvent{
		ActorID:      actorID,
		SubjectEmail: email,
		Activity:     models.AuditAssignmentCreated,
		NewValue:     delivery,
		Metadata: map[string]string{
			"test_id":    test.ID,
			"session_id": strconv.FormatUint(uint64(sessionID), 10),
		},
		At: o.now(),
	})
}

func hardFailure(email, name string, class models.ErrorClass, msg string) models.AssignmentOutcome {
	return models.AssignmentOutcome{
		RecipientEmail: email,
		RecipientName:  name,
		ErrorClass:     class,
		ErrorMessage:   msg,
	}
}

func accessLink(baseURL, token string) string {
	return baseURL + "/exam/" + token
}
