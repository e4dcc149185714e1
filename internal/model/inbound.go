package model

import (
	"time"
)

// Message sources. The lifecycle logic is source-agnostic; the enum only
// matters at the intake boundary and as part of the dedupe key.
const (
	SourceEmail = "email"
	SourceChat  = "chat"
)

// ValidSource reports whether s is a known message source.
func ValidSource(s string) bool {
	return s == SourceEmail || s == SourceChat
}

// InboundMessage is one unit of work handed to the lifecycle controller by a
// listener. ExternalID must be stable and unique within Source (email
// Message-ID header, Slack event_id). CaseRef optionally carries the reply
// context a listener resolved (thread id, subject tag) so admin replies and
// closures can target a specific case.
type InboundMessage struct {
	ExternalID string
	Source     string
	Sender     string
	Body       string
	CaseRef    string
	ReceivedAt time.Time
}

// NotificationIntent kinds.
const (
	IntentNewMessage      = "new_message"
	IntentEscalationAlert = "escalation_alert"
	IntentClosureLog      = "closure_log"
)

// NotificationIntent is a side effect the core decided to issue. The core
// never talks to Slack or SMTP itself; intents are returned to the caller and
// dispatched by the notifier.
type NotificationIntent struct {
	Kind               string `json:"kind"`
	CaseID             string `json:"case_id"`
	Text               string `json:"text"`
	CustomerIdentifier string `json:"customer_identifier,omitempty"`
	AdminIdentifier    string `json:"admin_identifier,omitempty"`
}
