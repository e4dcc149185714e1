package model

import (
	"time"
)

// Message represents a single inbound message within a case. Messages are
// totally ordered by (timestamp, id); the follow-up escalation rule depends
// on that order.
type Message struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CaseID    string    `json:"case_id" gorm:"type:varchar(64);not null;index"`
	Sender    string    `json:"sender" gorm:"type:varchar(255);not null"`
	IsAdmin   bool      `json:"is_admin" gorm:"not null;default:false"`
	Body      string    `json:"body" gorm:"type:text;not null"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source" gorm:"type:varchar(16);not null"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "messages"
}
