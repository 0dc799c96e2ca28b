package services

import (
	"context"
	"fmt"
	"time"

	"evalhub/internal/models"
	"evalhub/internal/utils"

	"go.uber.org/zap"
)

const (
	usernamePrefix    = "eval-"
	usernameSuffixLen = 8
	secretBytes       = 18
)

// CredentialIssuer mints or reuses one-time credentials for a
// (recipient, test) pair. A valid existing credential is always returned
// unchanged so links already sent to a recipient keep working.
type CredentialIssuer struct {
	log   *zap.Logger
	store CredentialStore
	ttl   time.Duration
	now   func() time.Time
}

func NewCredentialIssuer(log *zap.Logger, store CredentialStore, ttl time.Duration) *CredentialIssuer {
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &CredentialIssuer{log: log, store: store, ttl: ttl, now: time.Now}
}

// IssueOrReuse is idempotent while the pair's credential stays unexpired
// and unused: calling it twice returns the identical username/secret.
func (i *CredentialIssuer) IssueOrReuse(ctx context.Context, email, testID string) (*models.Credential, error) {
	now := i.now()

	existing, err := i.store.FindValid(ctx, email, testID, now)
	if err != nil {
		return nil, fmt.Errorf("credential lookup: %w", err)
	}
	if existing != nil {
		i.log.Debug("Reusing existing credential",
			zap.String("email", email),
			zap.String("testID", testID),
			zap.String("username", existing.Username),
		)
		return existing, nil
	}

	suffix, err := utils.GenerateUsernameSuffix(usernameSuffixLen)
	if err != nil {
		return nil, fmt.Errorf("credential username: %w", err)
	}
	secret, err := utils.GenerateSecureToken(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("credential secret: %w", err)
	}

	cred := &models.Credential{
		RecipientEmail: email,
		TestID:         testID,
		Username:       usernamePrefix + suffix,
		Secret:         secret,
		ExpiresAt:      now.Add(i.ttl),
	}
	if err := i.store.Insert(ctx, cred); err != nil {
		return nil, fmt.Errorf("credential insert: %w", err)
	}

	i.log.Info("Minted new credential",
		zap.String("email", email),
		zap.String("testID", testID),
		zap.String("username", cred.Username),
	)
	return cred, nil
}
