// Package repository is the persistence layer for cases, messages, and the
// dedupe ledger. The open-case uniqueness constraint and the processed-message
// unique key live here; both race-recovery paths (re-query after duplicate)
// are handled locally and never surface to callers.
package repository

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"casetrack-go/internal/model"
)

// Repository wraps a gorm handle. Use Tx to get a Repository bound to a
// transaction; the clock carries over.
type Repository struct {
	db *gorm.DB

	// Now is the clock for all persisted timestamps. Overridable in tests.
	Now func() time.Time

	// beforeCaseInsert runs between the open-case lookup miss and the
	// insert. Test seam for the creation race; nil in production.
	beforeCaseInsert func()
}

// New creates a Repository on the given database handle.
func New(db *gorm.DB) *Repository {
	return &Repository{
		db:  db,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// Tx runs fn inside a database transaction. This is the unit of atomicity for
// one inbound message: any error rolls back every mutation, including the
// dedupe ledger row, so upstream retries stay safe.
func (r *Repository) Tx(fn func(tx *Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, Now: r.Now})
	})
}

// GenerateCaseID returns a unique case id: UTC timestamp plus random suffix.
func (r *Repository) GenerateCaseID() string {
	return fmt.Sprintf("CASE_%s_%04d", r.Now().Format("20060102_150405"), rand.Intn(9000)+1000)
}

// ResolveOrCreateCase returns the customer's open case, creating one when
// none exists. Two concurrent callers can both miss the lookup; the unique
// index on open_customer makes the second insert fail, and the loser recovers
// by re-querying for the winner's row.
func (r *Repository) ResolveOrCreateCase(customerIdentifier string) (*model.Case, bool, error) {
	c, err := r.findOpenCase(customerIdentifier)
	if err != nil {
		return nil, false, err
	}
	if c != nil {
		return c, false, nil
	}

	if r.beforeCaseInsert != nil {
		r.beforeCaseInsert()
	}

	now := r.Now()
	openCustomer := customerIdentifier
	newCase := model.Case{
		CaseID:             r.GenerateCaseID(),
		CustomerIdentifier: customerIdentifier,
		Status:             model.StatusOpen,
		OpenCustomer:       &openCustomer,
		CreatedAt:          now,
		LastMessageAt:      now,
		MessageCount:       0,
	}
	if err := r.db.Create(&newCase).Error; err != nil {
		if !isDuplicateErr(err) {
			return nil, false, fmt.Errorf("failed to create case: %w", err)
		}
		// Lost the creation race; the winner's row must exist now.
		c, err = r.findOpenCase(customerIdentifier)
		if err != nil {
			return nil, false, err
		}
		if c == nil {
			return nil, false, fmt.Errorf("open case for %s vanished after duplicate insert", customerIdentifier)
		}
		return c, false, nil
	}
	return &newCase, true, nil
}

func (r *Repository) findOpenCase(customerIdentifier string) (*model.Case, error) {
	var c model.Case
	q := r.db.Where("customer_identifier = ? AND status = ?", customerIdentifier, model.StatusOpen)
	if r.db.Name() == "mysql" {
		// Serializes concurrent appends for the same customer. SQLite has a
		// single writer and rejects FOR UPDATE, so skip it there.
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	result := q.First(&c)
	if result.Error == nil {
		return &c, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error looking up open case: %w", result.Error)
}

// FindCaseByID returns the case with the given id, or nil when absent.
func (r *Repository) FindCaseByID(caseID string) (*model.Case, error) {
	var c model.Case
	q := r.db.Where("case_id = ?", caseID)
	if r.db.Name() == "mysql" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	result := q.First(&c)
	if result.Error == nil {
		return &c, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error looking up case: %w", result.Error)
}

// AppendMessage appends a message to the case and maintains the case metadata
// (message_count, last_message_at). It decides nothing about escalation or
// closure; the service orchestrates those.
func (r *Repository) AppendMessage(c *model.Case, sender, body, source string, isAdmin bool) (*model.Message, error) {
	now := r.Now()
	msg := model.Message{
		CaseID:    c.CaseID,
		Sender:    sender,
		IsAdmin:   isAdmin,
		Body:      body,
		Timestamp: now,
		Source:    source,
	}
	if err := r.db.Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	updates := map[string]interface{}{
		"message_count":   gorm.Expr("message_count + 1"),
		"last_message_at": now,
	}
	if err := r.db.Model(&model.Case{}).Where("case_id = ?", c.CaseID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update case metadata: %w", err)
	}
	c.MessageCount++
	c.LastMessageAt = now
	return &msg, nil
}

// CaseMessages returns the case's messages in arrival order. Insertion order
// breaks timestamp ties so the follow-up walk stays deterministic.
func (r *Repository) CaseMessages(caseID string) ([]model.Message, error) {
	var messages []model.Message
	result := r.db.Where("case_id = ?", caseID).Order("timestamp ASC, id ASC").Find(&messages)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load case messages: %w", result.Error)
	}
	return messages, nil
}

// CloseCase marks the case closed and releases the open-customer slot so the
// next contact from this customer opens a fresh case. Idempotent: closing an
// already-closed case is a no-op.
func (r *Repository) CloseCase(c *model.Case) error {
	if !c.IsOpen() {
		return nil
	}
	now := r.Now()
	updates := map[string]interface{}{
		"status":        model.StatusClosed,
		"closed_at":     now,
		"open_customer": nil,
	}
	if err := r.db.Model(&model.Case{}).Where("case_id = ? AND status = ?", c.CaseID, model.StatusOpen).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to close case: %w", err)
	}
	c.Status = model.StatusClosed
	c.ClosedAt = &now
	c.OpenCustomer = nil
	return nil
}

// EscalateCase flips the monotonic escalated flag. escalated_at is set only
// on the first transition and never reset.
func (r *Repository) EscalateCase(c *model.Case) error {
	now := r.Now()
	updates := map[string]interface{}{"escalated": true}
	if c.EscalatedAt == nil {
		updates["escalated_at"] = now
	}
	if err := r.db.Model(&model.Case{}).Where("case_id = ?", c.CaseID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to escalate case: %w", err)
	}
	c.Escalated = true
	if c.EscalatedAt == nil {
		c.EscalatedAt = &now
	}
	return nil
}

// UpdateLastEscalationAlert stamps the alert gate after a notification was
// issued for the case.
func (r *Repository) UpdateLastEscalationAlert(c *model.Case) error {
	now := r.Now()
	if err := r.db.Model(&model.Case{}).Where("case_id = ?", c.CaseID).Update("last_escalation_alert", now).Error; err != nil {
		return fmt.Errorf("failed to update escalation alert timestamp: %w", err)
	}
	c.LastEscalationAlert = &now
	return nil
}

// OpenCases returns every open case, for the escalation sweep.
func (r *Repository) OpenCases() ([]model.Case, error) {
	var cases []model.Case
	result := r.db.Where("status = ?", model.StatusOpen).Find(&cases)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list open cases: %w", result.Error)
	}
	return cases, nil
}

// ListCases returns all cases, newest activity first. Debug endpoint only.
func (r *Repository) ListCases() ([]model.Case, error) {
	var cases []model.Case
	result := r.db.Order("last_message_at DESC").Find(&cases)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list cases: %w", result.Error)
	}
	return cases, nil
}

// IsProcessed checks the dedupe ledger for an already-applied delivery.
func (r *Repository) IsProcessed(externalID, source string) (bool, error) {
	var processed model.ProcessedMessage
	result := r.db.Where("message_id = ? AND source = ?", externalID, source).First(&processed)
	if result.Error == nil {
		return true, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("database error checking processed message: %w", result.Error)
}

// RecordProcessed appends a ledger row for the delivery. A concurrent worker
// may have inserted the same key already; the unique constraint is the source
// of truth and the violation is swallowed as "already recorded".
func (r *Repository) RecordProcessed(externalID, source string, caseID *string) error {
	processed := model.ProcessedMessage{
		MessageID:   externalID,
		Source:      source,
		ProcessedAt: r.Now(),
		CaseID:      caseID,
	}
	if err := r.db.Create(&processed).Error; err != nil {
		if isDuplicateErr(err) {
			return nil
		}
		return fmt.Errorf("failed to record processed message: %w", err)
	}
	return nil
}

// CleanupProcessed prunes ledger rows older than the retention window.
// Redelivery that far out is not a realistic concern.
func (r *Repository) CleanupProcessed(retentionDays int) (int64, error) {
	cutoff := r.Now().AddDate(0, 0, -retentionDays)
	result := r.db.Where("processed_at < ?", cutoff).Delete(&model.ProcessedMessage{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean up processed messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
