package repository

import (
	"context"
	"errors"
	"time"

	"evalhub/internal/database"
	"evalhub/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

var liveStatuses = []models.SessionStatus{models.SessionPending, models.SessionStarted}

// CleanupPair deletes every session for the (recipient, test) pair and
// returns the attempts counter of the live session that was torn down
// (0 if none existed). Read and delete run in one transaction so a rerun
// observes either the old state or none of it.
func CleanupPair(ctx context.Context, email, testID string) (int, error) {
	prevAttempts := 0
	err := database.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior models.Session
		err := tx.Where("recipient_email = ? AND test_id = ? AND status IN ?", email, testID, liveStatuses).
			Order("updated_at DESC").
			First(&prior).Error
		if err == nil {
			prevAttempts = prior.AttemptsTaken
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.Where("recipient_email = ? AND test_id = ?", email, testID).
			Delete(&models.Session{}).Error
	})
	return prevAttempts, err
}

// CountLiveSessions returns how many non-terminal sessions exist for the pair.
func CountLiveSessions(ctx context.Context, email, testID string) (int64, error) {
	var count int64
	err := database.DB.WithContext(ctx).Model(&models.Session{}).
		Where("recipient_email = ? AND test_id = ? AND status IN ?", email, testID, liveStatuses).
		Count(&count).Error
	return count, err
}

func CreateSession(ctx context.Context, session *models.Session) error {
	return database.DB.WithContext(ctx).Create(session).Error
}

// GetSessionByID returns (nil, nil) when no session with that id exists.
func GetSessionByID(ctx context.Context, id uint) (*models.Session, error) {
	var session models.Session
	err := database.DB.WithContext(ctx).First(&session, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// MarkSessionNotified stamps how and when the recipient was told about the
// session. via is "email" for automated dispatch, "manual" for the
// human-confirmed fallback path.
func MarkSessionNotified(ctx context.Context, id uint, via string, addresses []string, at time.Time) error {
	return database.DB.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(map[string]interface{}{
		"notified_at":        at,
		"notified_via":       via,
		"notified_addresses": pq.StringArray(addresses),
	}).Error
}

// PendingForReminder lists pending sessions that were notified before the
// cutoff and have reminder budget left.
func PendingForReminder(ctx context.Context, before time.Time, maxReminders int) ([]models.Session, error) {
	var sessions []models.Session
	err := database.DB.WithContext(ctx).
		Where("status = ? AND notified_via = ? AND notified_at < ? AND reminders_sent < ?",
			models.SessionPending, "email", before, maxReminders).
		Find(&sessions).Error
	return sessions, err
}

func IncrementReminders(ctx context.Context, id uint) error {
	return database.DB.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).
		UpdateColumn("reminders_sent", gorm.Expr("reminders_sent + 1")).Error
}
