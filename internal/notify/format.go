package notify

import (
	"fmt"
	"time"
)

const previewLength = 200

// FormatNewMessage renders the routine support-channel notification for an
// inbound message. Long bodies are cut to a short preview. The case id is
// carried in full: admin replies quote it to target closures, so it must
// survive a copy-paste from any notification.
func FormatNewMessage(caseID, body, senderName string) string {
	display := body
	if len(display) > previewLength {
		display = display[:previewLength] + "..."
	}
	return fmt.Sprintf("*%s* (Case #%s):\n%s", senderName, caseID, display)
}

// FormatEscalationAlert renders the alerting-channel payload, carrying every
// reason that fired.
func FormatEscalationAlert(caseID, reason, customerIdentifier string) string {
	return fmt.Sprintf(":rotating_light: *ESCALATION ALERT*\nCase #%s for %s\nReason: %s", caseID, customerIdentifier, reason)
}

// FormatClosureLog renders the logging-channel record for a closed case.
func FormatClosureLog(caseID, adminIdentifier string, closedAt time.Time) string {
	return fmt.Sprintf("Case #%s closed at %s by %s", caseID, closedAt.UTC().Format("2006-01-02 15:04:05 UTC"), adminIdentifier)
}
