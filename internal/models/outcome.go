package models

// ErrorClass labels why a recipient's pipeline hard-failed. Dispatch
// failures are deliberately absent: they degrade into manual delivery
// instead of failing the recipient.
type ErrorClass string

const (
	ErrClassRecipientNotFound   ErrorClass = "recipient_not_found"
	ErrClassRecipientIneligible ErrorClass = "recipient_ineligible"
	ErrClassValidationFailed    ErrorClass = "validation_failed"
	ErrClassWriteFailed         ErrorClass = "write_failed"
)

// AssignmentOutcome is the result of processing one recipient. The batch
// returns one outcome per requested recipient, in request order, even when
// every recipient fails.
type AssignmentOutcome struct {
	Success        bool       `json:"success"`
	RecipientEmail string     `json:"recipient_email"`
	RecipientName  string     `json:"recipient_name"`
	ErrorClass     ErrorClass `json:"error_class,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`

	// RequiresManualDelivery marks a recipient whose artifacts exist but
	// whose notification has to be handed over by a human.
	RequiresManualDelivery bool   `json:"requires_manual_delivery"`
	Instructions           string `json:"instructions,omitempty"`
	ManualHandle           string `json:"manual_handle,omitempty"`

	SessionID          uint   `json:"session_id,omitempty"`
	CredentialUsername string `json:"credential_username,omitempty"`
}
