package services

import (
	"fmt"
	"strings"

	"evalhub/internal/models"
)

// BuildSubject returns the notification subject line for a test.
func BuildSubject(test *models.TestDefinition) string {
	return fmt.Sprintf("Your %s assessment is ready", test.Name)
}

// BuildInstructions renders the plaintext instruction block sent to a
// recipient, or handed to an administrator for manual delivery. With a nil
// credential the block is link-only, which is all external recipients get.
func BuildInstructions(test *models.TestDefinition, link string, cred *models.Credential) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You have been assigned the assessment: %s\n", test.Name)
	if test.Description != "" {
		fmt.Fprintf(&b, "%s\n", test.Description)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Access link: %s\n", link)

	if cred != nil {
		b.WriteString("\n")
		b.WriteString("Sign in with these one-time credentials:\n")
		fmt.Fprintf(&b, "  Username: %s\n", cred.Username)
		fmt.Fprintf(&b, "  Password: %s\n", cred.Secret)
		fmt.Fprintf(&b, "The credentials expire on %s.\n", cred.ExpiresAt.Format("2006-01-02"))
	}

	if test.DurationMinutes > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Plan for about %d minutes to complete it.\n", test.DurationMinutes)
	}

	return b.String()
}

// BuildReminderSubject returns the subject for a reminder notification.
func BuildReminderSubject(test *models.TestDefinition) string {
	return fmt.Sprintf("Reminder: your %s assessment is still pending", test.Name)
}
