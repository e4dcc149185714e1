// Package service hosts the case lifecycle controller: given one inbound
// message it resolves the target case, appends, evaluates escalation and
// closure, and returns the notification intents to issue. It also owns the
// periodic escalation sweep over all open cases.
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"casetrack-go/internal/metrics"
	"casetrack-go/internal/model"
	"casetrack-go/internal/notify"
	"casetrack-go/internal/repository"
	"casetrack-go/internal/rules"
)

// ErrValidation marks inbound units rejected before any case mutation:
// missing sender or external id, unknown source, or a body that is empty
// after sanitization. Rejected deliveries are not recorded in the dedupe
// ledger, so a corrected redelivery can succeed.
var ErrValidation = errors.New("invalid inbound message")

// CaseService orchestrates the case lifecycle.
type CaseService struct {
	repo    *repository.Repository
	engine  *rules.Engine
	metrics *metrics.Metrics
}

// NewCaseService creates the lifecycle controller. metrics may be nil in
// tests.
func NewCaseService(repo *repository.Repository, engine *rules.Engine, m *metrics.Metrics) *CaseService {
	return &CaseService{repo: repo, engine: engine, metrics: m}
}

// HandleInbound processes one inbound message end to end inside a single
// database transaction and returns the notification intents the caller
// should dispatch. A redelivered message (already in the dedupe ledger)
// returns an empty intent list and no error.
func (s *CaseService) HandleInbound(in model.InboundMessage) ([]model.NotificationIntent, error) {
	if in.ExternalID == "" {
		return nil, s.reject(fmt.Errorf("%w: missing external id", ErrValidation))
	}
	if in.Sender == "" {
		return nil, s.reject(fmt.Errorf("%w: missing sender", ErrValidation))
	}
	if !model.ValidSource(in.Source) {
		return nil, s.reject(fmt.Errorf("%w: unknown source %q", ErrValidation, in.Source))
	}

	sender := in.Sender
	if in.Source == model.SourceEmail {
		sender = strings.ToLower(sender)
	}

	body := s.engine.SanitizeBody(in.Body)
	if body == "" {
		return nil, s.reject(fmt.Errorf("%w: empty body after sanitization", ErrValidation))
	}

	var intents []model.NotificationIntent
	duplicate := false

	err := s.repo.Tx(func(tx *repository.Repository) error {
		processed, err := tx.IsProcessed(in.ExternalID, in.Source)
		if err != nil {
			return err
		}
		if processed {
			duplicate = true
			return nil
		}

		if s.engine.IsAdmin(sender) {
			intents, err = s.handleAdminMessage(tx, in, sender, body)
			return err
		}

		intents, err = s.handleCustomerMessage(tx, in, sender, body)
		return err
	})
	if err != nil {
		return nil, err
	}

	if duplicate {
		logrus.Infof("Delivery %s from %s already processed, skipping", in.ExternalID, in.Source)
		if s.metrics != nil {
			s.metrics.InboundDuplicates.Inc()
		}
		return nil, nil
	}

	if s.metrics != nil {
		s.metrics.InboundProcessed.Inc()
	}
	return intents, nil
}

// handleAdminMessage covers closure commands and ordinary admin replies.
// Both need an explicit target case, resolved from the listener-supplied
// case ref or a CASE_ token in the body; system-wide "most recent open case"
// guessing is deliberately not done.
func (s *CaseService) handleAdminMessage(tx *repository.Repository, in model.InboundMessage, sender, body string) ([]model.NotificationIntent, error) {
	target, err := s.resolveTargetCase(tx, in, body)
	if err != nil {
		return nil, err
	}

	if s.engine.IsClosurePhrase(body) {
		if target == nil {
			// Ambiguous closure target: log and ignore. Recorded as
			// processed anyway since redelivery cannot disambiguate it.
			logrus.Warnf("Admin %s sent closure command without resolvable case reference, ignoring", sender)
			return nil, tx.RecordProcessed(in.ExternalID, in.Source, nil)
		}
		if !target.IsOpen() {
			logrus.Infof("Admin %s closed case %s which is already closed", sender, target.CaseID)
			return nil, tx.RecordProcessed(in.ExternalID, in.Source, &target.CaseID)
		}
		if err := tx.CloseCase(target); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.CasesClosed.Inc()
		}
		logrus.Infof("Case %s closed by admin %s", target.CaseID, sender)
		intents := []model.NotificationIntent{{
			Kind:            model.IntentClosureLog,
			CaseID:          target.CaseID,
			Text:            notify.FormatClosureLog(target.CaseID, sender, *target.ClosedAt),
			AdminIdentifier: sender,
		}}
		return intents, tx.RecordProcessed(in.ExternalID, in.Source, &target.CaseID)
	}

	if target == nil || !target.IsOpen() {
		// Admin chatter with no open target case needs no case mutation.
		logrus.Debugf("Admin message from %s has no open target case, nothing to do", sender)
		return nil, tx.RecordProcessed(in.ExternalID, in.Source, nil)
	}

	// Admin reply lands on the customer's case and resets the follow-up run.
	if _, err := tx.AppendMessage(target, sender, body, in.Source, true); err != nil {
		return nil, err
	}
	intents := []model.NotificationIntent{{
		Kind:            model.IntentNewMessage,
		CaseID:          target.CaseID,
		Text:            notify.FormatNewMessage(target.CaseID, body, sender),
		AdminIdentifier: sender,
	}}
	return intents, tx.RecordProcessed(in.ExternalID, in.Source, &target.CaseID)
}

func (s *CaseService) handleCustomerMessage(tx *repository.Repository, in model.InboundMessage, sender, body string) ([]model.NotificationIntent, error) {
	c, created, err := tx.ResolveOrCreateCase(sender)
	if err != nil {
		return nil, err
	}
	if created {
		logrus.Infof("Created case %s for %s", c.CaseID, sender)
		if s.metrics != nil {
			s.metrics.CasesCreated.Inc()
		}
	}

	// The time predicate sees the case as of arrival; the append below moves
	// last_message_at to now.
	lastBefore := c.LastMessageAt
	if created {
		// A brand-new case has no silence to measure.
		lastBefore = tx.Now()
	}

	if _, err := tx.AppendMessage(c, sender, body, in.Source, false); err != nil {
		return nil, err
	}

	msgs, err := tx.CaseMessages(c.CaseID)
	if err != nil {
		return nil, err
	}

	var intents []model.NotificationIntent

	reasons := s.engine.EscalationReasons(rules.EscalationSnapshot{
		Case:          c,
		LastMessageAt: lastBefore,
		Messages:      msgs,
		NewBody:       body,
	})
	if len(reasons) > 0 {
		if !c.Escalated {
			if err := tx.EscalateCase(c); err != nil {
				return nil, err
			}
			if s.metrics != nil {
				s.metrics.CasesEscalated.Inc()
			}
			logrus.Infof("Case %s escalated: %s", c.CaseID, strings.Join(reasons, "; "))
		}
		if s.engine.ShouldSendEscalationAlert(c) {
			intents = append(intents, model.NotificationIntent{
				Kind:               model.IntentEscalationAlert,
				CaseID:             c.CaseID,
				Text:               notify.FormatEscalationAlert(c.CaseID, strings.Join(reasons, "; "), sender),
				CustomerIdentifier: sender,
			})
			if err := tx.UpdateLastEscalationAlert(c); err != nil {
				return nil, err
			}
			if s.metrics != nil {
				s.metrics.AlertsSent.Inc()
			}
		}
	}

	intents = append(intents, model.NotificationIntent{
		Kind:               model.IntentNewMessage,
		CaseID:             c.CaseID,
		Text:               notify.FormatNewMessage(c.CaseID, body, displayName(sender, in.Source)),
		CustomerIdentifier: sender,
	})

	return intents, tx.RecordProcessed(in.ExternalID, in.Source, &c.CaseID)
}

// resolveTargetCase resolves an admin message to the case it replies to,
// using the listener's reply context first and a CASE_ token in the body as
// fallback. Returns nil when no reference resolves.
func (s *CaseService) resolveTargetCase(tx *repository.Repository, in model.InboundMessage, body string) (*model.Case, error) {
	ref := in.CaseRef
	if ref == "" {
		ref = rules.ExtractCaseRef(body)
	}
	if ref == "" {
		return nil, nil
	}
	return tx.FindCaseByID(ref)
}

// RunEscalationSweep re-evaluates every open case against the time and
// follow-up predicates and returns the alerts to issue. The sweep is
// stateless: each tick reads everything it needs from persisted case state.
// Already-escalated cases that still meet a predicate re-alert at the alert
// gate's cadence instead of every tick.
func (s *CaseService) RunEscalationSweep() ([]model.NotificationIntent, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.SweepRuns.Inc()
	}

	open, err := s.repo.OpenCases()
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OpenCases.Set(float64(len(open)))
	}

	var intents []model.NotificationIntent
	for i := range open {
		caseID := open[i].CaseID
		err := s.repo.Tx(func(tx *repository.Repository) error {
			// Re-fetch under lock: an inbound-message transaction may have
			// closed or mutated the case since the listing.
			c, err := tx.FindCaseByID(caseID)
			if err != nil {
				return err
			}
			if c == nil || !c.IsOpen() {
				return nil
			}

			msgs, err := tx.CaseMessages(c.CaseID)
			if err != nil {
				return err
			}

			reasons := s.engine.SweepReasons(c, msgs)
			if len(reasons) == 0 {
				return nil
			}

			if !c.Escalated {
				if err := tx.EscalateCase(c); err != nil {
					return err
				}
				if s.metrics != nil {
					s.metrics.CasesEscalated.Inc()
				}
				logrus.Infof("Case %s escalated by sweep: %s", c.CaseID, strings.Join(reasons, "; "))
			}

			if s.engine.ShouldSendEscalationAlert(c) {
				intents = append(intents, model.NotificationIntent{
					Kind:               model.IntentEscalationAlert,
					CaseID:             c.CaseID,
					Text:               notify.FormatEscalationAlert(c.CaseID, strings.Join(reasons, "; "), c.CustomerIdentifier),
					CustomerIdentifier: c.CustomerIdentifier,
				})
				if err := tx.UpdateLastEscalationAlert(c); err != nil {
					return err
				}
				if s.metrics != nil {
					s.metrics.AlertsSent.Inc()
				}
			}
			return nil
		})
		if err != nil {
			logrus.Errorf("Sweep failed for case %s: %v", caseID, err)
		}
	}

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	return intents, nil
}

// CleanupProcessed prunes old dedupe ledger rows.
func (s *CaseService) CleanupProcessed(retentionDays int) error {
	deleted, err := s.repo.CleanupProcessed(retentionDays)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logrus.Infof("Pruned %d processed-message rows older than %d days", deleted, retentionDays)
	}
	return nil
}

func (s *CaseService) reject(err error) error {
	if s.metrics != nil {
		s.metrics.InboundRejected.Inc()
	}
	return err
}

func displayName(sender, source string) string {
	if source == model.SourceEmail {
		if at := strings.Index(sender, "@"); at > 0 {
			return sender[:at]
		}
		return sender
	}
	return "User " + sender
}
