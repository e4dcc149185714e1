package model

import (
	"time"
)

// ProcessedMessage is the dedupe ledger: one row per successfully applied
// inbound delivery, keyed by the upstream id within its source. A redelivered
// email or Slack event hits the unique constraint and becomes a no-op.
type ProcessedMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex:uq_processed_message_id_source"`
	Source      string    `json:"source" gorm:"type:varchar(16);not null;uniqueIndex:uq_processed_message_id_source"`
	ProcessedAt time.Time `json:"processed_at" gorm:"index"`
	CaseID      *string   `json:"case_id" gorm:"type:varchar(64)"`
}

// TableName specifies the table name for ProcessedMessage
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}
