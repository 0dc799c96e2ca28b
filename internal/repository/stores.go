package repository

import (
	"context"
	"time"

	"evalhub/internal/models"
)

// Thin adapters binding the package-level gorm functions to the
// collaborator interfaces the orchestrator accepts. Tests swap these for
// in-memory fakes.

type GormDirectory struct{}

func (GormDirectory) LookupByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	return GetUsersByIDs(ctx, ids)
}

func (GormDirectory) LookupByEmail(ctx context.Context, email string) (*models.User, error) {
	return GetUserByEmail(ctx, email)
}

type GormSessionStore struct{}

func (GormSessionStore) Cleanup(ctx context.Context, email, testID string) (int, error) {
	return CleanupPair(ctx, email, testID)
}

func (GormSessionStore) CountLive(ctx context.Context, email, testID string) (int64, error) {
	return CountLiveSessions(ctx, email, testID)
}

func (GormSessionStore) Create(ctx context.Context, session *models.Session) error {
	return CreateSession(ctx, session)
}

func (GormSessionStore) MarkNotified(ctx context.Context, id uint, via string, addresses []string, at time.Time) error {
	return MarkSessionNotified(ctx, id, via, addresses, at)
}

func (GormSessionStore) PendingForReminder(ctx context.Context, before time.Time, maxReminders int) ([]models.Session, error) {
	return PendingForReminder(ctx, before, maxReminders)
}

func (GormSessionStore) GetSession(ctx context.Context, id uint) (*models.Session, error) {
	return GetSessionByID(ctx, id)
}

func (GormSessionStore) IncrementReminders(ctx context.Context, id uint) error {
	return IncrementReminders(ctx, id)
}

type GormCredentialStore struct{}

func (GormCredentialStore) FindValid(ctx context.Context, email, testID string, now time.Time) (*models.Credential, error) {
	return FindValidCredential(ctx, email, testID, now)
}

func (GormCredentialStore) Insert(ctx context.Context, cred *models.Credential) error {
	return InsertCredential(ctx, cred)
}
