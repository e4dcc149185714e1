package slackevent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(body []byte, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "test-signing-secret"
	body := []byte(`{"type":"event_callback"}`)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	timestamp := strconv.FormatInt(now.Unix(), 10)

	assert.True(t, VerifySignature(body, timestamp, sign(body, timestamp, secret), secret, now))

	// Wrong secret, tampered body, missing pieces.
	assert.False(t, VerifySignature(body, timestamp, sign(body, timestamp, "other"), secret, now))
	assert.False(t, VerifySignature([]byte(`{"tampered":true}`), timestamp, sign(body, timestamp, secret), secret, now))
	assert.False(t, VerifySignature(body, timestamp, "", secret, now))
	assert.False(t, VerifySignature(body, "", sign(body, timestamp, secret), secret, now))
	assert.False(t, VerifySignature(body, timestamp, sign(body, timestamp, secret), "", now))
	assert.False(t, VerifySignature(body, "not-a-number", sign(body, "not-a-number", secret), secret, now))
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	secret := "test-signing-secret"
	body := []byte(`{}`)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	stale := strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10)
	assert.False(t, VerifySignature(body, stale, sign(body, stale, secret), secret, now))

	recent := strconv.FormatInt(now.Add(-4*time.Minute).Unix(), 10)
	assert.True(t, VerifySignature(body, recent, sign(body, recent, secret), secret, now))
}

func TestParseURLVerification(t *testing.T) {
	env, err := Parse([]byte(`{"type":"url_verification","challenge":"abc123"}`))
	require.NoError(t, err)
	assert.True(t, env.IsURLVerification())
	assert.Equal(t, "abc123", env.Challenge)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestIsProcessableMessage(t *testing.T) {
	env, err := Parse([]byte(`{
		"type": "event_callback",
		"event_id": "Ev123",
		"event": {"type": "message", "user": "U111", "text": "hello", "channel": "C1", "ts": "1.0"}
	}`))
	require.NoError(t, err)
	assert.True(t, env.IsProcessableMessage())

	// Bot messages and housekeeping subtypes are filtered.
	env.Event.BotID = "B1"
	assert.False(t, env.IsProcessableMessage())
	env.Event.BotID = ""

	for _, subtype := range []string{"channel_join", "channel_leave", "bot_message", "message_deleted", "message_changed"} {
		env.Event.Subtype = subtype
		assert.False(t, env.IsProcessableMessage(), subtype)
	}
	env.Event.Subtype = ""

	env.Event.Text = ""
	assert.False(t, env.IsProcessableMessage())
	env.Event.Text = "hello"

	env.Event.Type = "reaction_added"
	assert.False(t, env.IsProcessableMessage())
}
