package repository

import (
	"context"
	"errors"
	"time"

	"evalhub/internal/database"
	"evalhub/internal/models"

	"gorm.io/gorm"
)

// FindValidCredential returns the unexpired, unused credential for the
// (recipient, test) pair, or (nil, nil) when none exists.
func FindValidCredential(ctx context.Context, email, testID string, now time.Time) (*models.Credential, error) {
	var cred models.Credential
	err := database.DB.WithContext(ctx).
		Where("recipient_email = ? AND test_id = ? AND used_at IS NULL AND expires_at > ?", email, testID, now).
		Order("created_at DESC").
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func InsertCredential(ctx context.Context, cred *models.Credential) error {
	return database.DB.WithContext(ctx).Create(cred).Error
}
