package repository

import (
	"context"
	"encoding/json"

	"evalhub/internal/database"
	"evalhub/internal/models"
)

// AppendAuditEntry persists one audit event. Callers treat this as
// best-effort; the audit sink swallows errors after logging them.
func AppendAuditEntry(ctx context.Context, ev models.AuditEvent) error {
	metadata := ""
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		metadata = string(raw)
	}

	entry := models.AuditEntry{
		ActorID:       ev.ActorID,
		SubjectEmail:  ev.SubjectEmail,
		Activity:      ev.Activity,
		PreviousValue: ev.PreviousValue,
		NewValue:      ev.NewValue,
		Metadata:      metadata,
		CreatedAt:     ev.At,
	}
	return database.DB.WithContext(ctx).Create(&entry).Error
}
