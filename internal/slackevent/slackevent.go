// Package slackevent parses Slack Events API deliveries: signature
// verification, the url_verification handshake, and extraction of the fields
// the lifecycle controller needs from message events.
package slackevent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Replay window for request timestamps.
const maxTimestampSkew = 5 * time.Minute

// Envelope is the outer Slack Events API payload.
type Envelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	EventID   string `json:"event_id"`
	Event     Event  `json:"event"`
}

// Event is the inner event object for message events.
type Event struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
}

// Parse decodes an Events API payload.
func Parse(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode Slack event: %w", err)
	}
	return &env, nil
}

// IsURLVerification reports whether the payload is the Events API setup
// handshake, whose challenge must be echoed back.
func (e *Envelope) IsURLVerification() bool {
	return e.Type == "url_verification"
}

// IsProcessableMessage filters to the message events the tracker handles:
// real user messages, excluding bots and channel-housekeeping subtypes.
func (e *Envelope) IsProcessableMessage() bool {
	if e.Event.Type != "message" {
		return false
	}
	switch e.Event.Subtype {
	case "channel_join", "channel_leave", "bot_message", "message_deleted", "message_changed":
		return false
	}
	if e.Event.BotID != "" {
		return false
	}
	return e.Event.User != "" && e.Event.Text != ""
}

// VerifySignature checks the v0 HMAC-SHA256 request signature and rejects
// stale timestamps to prevent replay. now is injectable for tests.
func VerifySignature(rawBody []byte, timestamp, signature, signingSecret string, now time.Time) bool {
	if signingSecret == "" || timestamp == "" || signature == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > maxTimestampSkew {
		return false
	}

	mac := hmac.New(sha256.New, []byte(signingSecret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(rawBody)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
