// Package notify delivers NotificationIntents produced by the lifecycle
// controller. The core never talks to Slack directly; this package routes
// intents to the configured channels with bounded retry and backoff.
package notify

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"casetrack-go/internal/config"
	"casetrack-go/internal/metrics"
	"casetrack-go/internal/model"
)

// slackAPI is the slice of the Slack client the notifier uses. Narrowed for
// testability.
type slackAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier routes notification intents to Slack channels.
type Notifier struct {
	client  slackAPI
	cfg     config.SlackConfig
	metrics *metrics.Metrics

	sleep func(time.Duration)
}

// New creates a Notifier from the Slack configuration. Returns nil when no
// bot token is configured; dispatching on a nil Notifier is a logged no-op so
// the core keeps working without Slack wired up.
func New(cfg config.SlackConfig, m *metrics.Metrics) *Notifier {
	if cfg.BotToken == "" {
		logrus.Warn("Slack bot token not configured, notifications disabled")
		return nil
	}
	return &Notifier{
		client:  slack.New(cfg.BotToken),
		cfg:     cfg,
		metrics: m,
		sleep:   time.Sleep,
	}
}

// Dispatch delivers every intent, routing by kind. Delivery failures are
// logged and counted but never propagate: notification delivery must not
// fail the message-processing transaction that already committed.
func (n *Notifier) Dispatch(intents []model.NotificationIntent) {
	if n == nil {
		if len(intents) > 0 {
			logrus.Debugf("Dropping %d notification intents, Slack disabled", len(intents))
		}
		return
	}
	for _, intent := range intents {
		channel := n.channelFor(intent.Kind)
		if channel == "" {
			logrus.Warnf("No channel configured for %s notifications", intent.Kind)
			continue
		}
		if !n.postWithRetry(intent.Kind, channel, intent.Text) {
			if n.metrics != nil {
				n.metrics.NotifyFailures.Inc()
			}
		}
	}
}

func (n *Notifier) channelFor(kind string) string {
	switch kind {
	case model.IntentNewMessage:
		return n.cfg.SupportChannel
	case model.IntentEscalationAlert:
		return n.cfg.AlertChannel
	case model.IntentClosureLog:
		return n.cfg.LogChannel
	default:
		return ""
	}
}

// postWithRetry sends one message with exponential backoff and jitter.
// Rate-limit responses honor the server's Retry-After when present.
func (n *Notifier) postWithRetry(kind, channel, text string) bool {
	var lastErr error

	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		_, _, err := n.client.PostMessage(channel, slack.MsgOptionText(text, false))
		if err == nil {
			if attempt > 0 {
				logrus.Infof("Slack %s delivery succeeded after %d retries", kind, attempt)
			}
			return true
		}
		lastErr = err

		if attempt == n.cfg.MaxRetries {
			break
		}

		delay := n.backoff(attempt, err)
		logrus.Warnf("Slack %s delivery failed (attempt %d/%d): %v, retrying in %v",
			kind, attempt+1, n.cfg.MaxRetries+1, err, delay)
		n.sleep(delay)
	}

	logrus.Errorf("Slack %s delivery failed after %d attempts: %v", kind, n.cfg.MaxRetries+1, lastErr)
	return false
}

func (n *Notifier) backoff(attempt int, err error) time.Duration {
	maxDelay := time.Duration(n.cfg.RetryMaxDelay * float64(time.Second))

	if rateLimited, ok := err.(*slack.RateLimitedError); ok && rateLimited.RetryAfter > 0 {
		if rateLimited.RetryAfter > maxDelay {
			return maxDelay
		}
		return rateLimited.RetryAfter
	}

	base := n.cfg.RetryBaseDelay * float64(int(1)<<uint(attempt))
	delay := time.Duration((base + rand.Float64()) * float64(time.Second))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
