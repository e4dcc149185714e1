// Package rules implements the escalation predicate set, closure-phrase
// detection, and the alert gate. Every check is a pure function of a case
// snapshot and, where noted, the incoming message body; the engine holds the
// configured thresholds and word lists.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"casetrack-go/internal/config"
	"casetrack-go/internal/model"
)

// Reason strings carried into escalation alert payloads.
const (
	reasonKeyword  = "urgent keywords detected in message"
	reasonTimeFmt  = "inactive for more than %d hours"
	reasonFollowup = "more than %d follow-ups without admin reply"
)

var caseRefPattern = regexp.MustCompile(`CASE_\d{8}_\d{6}_\d{4}`)

// Engine evaluates the fixed business rules against case state.
type Engine struct {
	cfg    config.RulesConfig
	admins map[string]struct{}

	// Now is the clock used by the time-based checks. Overridable in tests.
	Now func() time.Time
}

// NewEngine creates an Engine from the configured rule set.
func NewEngine(cfg config.RulesConfig) *Engine {
	admins := make(map[string]struct{})
	for _, id := range cfg.AdminIdentifiers() {
		admins[strings.ToLower(id)] = struct{}{}
	}
	return &Engine{
		cfg:    cfg,
		admins: admins,
		Now:    time.Now,
	}
}

// IsAdmin reports whether sender is on the configured admin allow-list.
// Comparison is case-insensitive; email identifiers are normalized to
// lowercase at intake anyway.
func (e *Engine) IsAdmin(sender string) bool {
	_, ok := e.admins[strings.ToLower(sender)]
	return ok
}

// HasUrgentKeyword scans the incoming message body case-insensitively for any
// configured urgent keyword. Substring match, not whole-word: "urgently"
// matches "urgent". Only the newly arrived message is scanned, never the
// whole case history.
func (e *Engine) HasUrgentKeyword(body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range e.cfg.UrgentKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// IsClosurePhrase reports whether body contains one of the configured closure
// phrases (case-insensitive).
func (e *Engine) IsClosurePhrase(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range e.cfg.ClosurePhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// TimeExceeded reports whether the case has been silent for longer than the
// configured escalation window. Both sides of the comparison are UTC.
func (e *Engine) TimeExceeded(c *model.Case) bool {
	if !c.IsOpen() {
		return false
	}
	threshold := e.Now().UTC().Add(-time.Duration(e.cfg.EscalationHours) * time.Hour)
	return c.LastMessageAt.Before(threshold)
}

// FollowupExceeded walks the case's messages from most recent backwards and
// counts the run of consecutive customer messages. An admin message ends the
// run. True once the run is strictly longer than the configured maximum.
// Messages must be in case order (timestamp, insertion order as tiebreak).
func (e *Engine) FollowupExceeded(c *model.Case, messages []model.Message) bool {
	if !c.IsOpen() {
		return false
	}
	run := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsAdmin {
			break
		}
		run++
		if run > e.cfg.MaxFollowups {
			return true
		}
	}
	return false
}

// EscalationSnapshot carries the inputs the predicates need at message-arrival
// time. The time predicate is evaluated against the case state as of the
// arrival (before the append moved last_message_at), while the follow-up
// predicate sees the message list including the just-appended message.
type EscalationSnapshot struct {
	Case          *model.Case
	LastMessageAt time.Time
	Messages      []model.Message
	NewBody       string
}

// EscalationReasons returns every reason that applies, OR-combined by the
// caller. Empty means no escalation.
func (e *Engine) EscalationReasons(snap EscalationSnapshot) []string {
	var reasons []string

	if e.HasUrgentKeyword(snap.NewBody) {
		reasons = append(reasons, reasonKeyword)
	}

	if snap.Case.IsOpen() {
		threshold := e.Now().UTC().Add(-time.Duration(e.cfg.EscalationHours) * time.Hour)
		if snap.LastMessageAt.Before(threshold) {
			reasons = append(reasons, fmt.Sprintf(reasonTimeFmt, e.cfg.EscalationHours))
		}
	}

	if e.FollowupExceeded(snap.Case, snap.Messages) {
		reasons = append(reasons, fmt.Sprintf(reasonFollowup, e.cfg.MaxFollowups))
	}

	return reasons
}

// SweepReasons evaluates only the time and follow-up predicates, for the
// scheduler path. The keyword predicate is message-local and never applies
// retroactively.
func (e *Engine) SweepReasons(c *model.Case, messages []model.Message) []string {
	var reasons []string
	if e.TimeExceeded(c) {
		reasons = append(reasons, fmt.Sprintf(reasonTimeFmt, e.cfg.EscalationHours))
	}
	if e.FollowupExceeded(c, messages) {
		reasons = append(reasons, fmt.Sprintf(reasonFollowup, e.cfg.MaxFollowups))
	}
	return reasons
}

// ShouldSendEscalationAlert is the alert gate: true when no alert was ever
// sent for the case, or the configured minimum interval has elapsed since the
// last one. It rate-limits notifications only; the escalated flag transition
// is separate and monotonic.
func (e *Engine) ShouldSendEscalationAlert(c *model.Case) bool {
	if c.LastEscalationAlert == nil {
		return true
	}
	interval := time.Duration(e.cfg.AlertIntervalMinutes) * time.Minute
	return e.Now().UTC().Sub(*c.LastEscalationAlert) >= interval
}

// SanitizeBody strips control characters (keeping newlines and tabs), trims
// surrounding whitespace, and caps the length with a truncation marker.
func (e *Engine) SanitizeBody(body string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, body)
	cleaned = strings.TrimSpace(cleaned)

	max := e.cfg.MaxBodyLength
	if max > 0 && len(cleaned) > max {
		// Back up to a rune boundary; a split multibyte rune is invalid
		// UTF-8 and a utf8mb4 column rejects it.
		cut := max
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut] + "... [truncated]"
	}
	return cleaned
}

// ExtractCaseRef returns the first case-id token found in text, or "". Admin
// replies carry the token in the subject or body (notifications always
// include it), which is how closures resolve their target case.
func ExtractCaseRef(text string) string {
	return caseRefPattern.FindString(text)
}
