package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"casetrack-go/internal/model"
	"casetrack-go/internal/service"
	"casetrack-go/internal/slackevent"
)

// SlackEvents receives Slack Events API deliveries. Message events are
// processed synchronously before the ack: a failed (rolled-back) event must
// answer non-2xx so Slack redelivers it, and the redelivery is absorbed by
// the dedupe ledger once a delivery finally commits. Processing is a single
// short transaction, well inside Slack's three-second deadline; only the
// notification dispatch, which can back off for longer, runs detached.
func (h *Handlers) SlackEvents(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_body", Message: "Failed to read request body", Code: http.StatusBadRequest})
		return
	}

	timestamp := c.GetHeader("X-Slack-Request-Timestamp")
	signature := c.GetHeader("X-Slack-Signature")
	if !slackevent.VerifySignature(rawBody, timestamp, signature, h.cfg.Slack.SigningSecret, time.Now()) {
		logrus.Warn("Rejected Slack event with invalid signature")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid_signature", Message: "Signature verification failed", Code: http.StatusUnauthorized})
		return
	}

	env, err := slackevent.Parse(rawBody)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_payload", Message: "Failed to parse event payload", Code: http.StatusBadRequest})
		return
	}

	if env.IsURLVerification() {
		c.JSON(http.StatusOK, gin.H{"challenge": env.Challenge})
		return
	}

	if !env.IsProcessableMessage() {
		c.Status(http.StatusOK)
		return
	}

	inbound := model.InboundMessage{
		ExternalID: env.EventID,
		Source:     model.SourceChat,
		Sender:     env.Event.User,
		Body:       env.Event.Text,
		ReceivedAt: time.Now().UTC(),
	}

	intents, err := h.service.HandleInbound(inbound)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			// Redelivering the identical payload cannot fix a validation
			// failure; ack so Slack stops retrying.
			logrus.Warnf("Rejected Slack event %s: %v", inbound.ExternalID, err)
			c.Status(http.StatusOK)
			return
		}
		logrus.Errorf("Failed to process Slack event %s: %v", inbound.ExternalID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "processing_failed", Message: "Failed to process event", Code: http.StatusInternalServerError})
		return
	}

	go h.notifier.Dispatch(intents)

	c.Status(http.StatusOK)
}
