package model

import (
	"time"
)

// Case status values.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Case represents a customer support case. A case is created when a customer
// first reaches out and stays open until an admin explicitly closes it; any
// later contact from the same customer opens a fresh case.
type Case struct {
	CaseID             string `json:"case_id" gorm:"type:varchar(64);primaryKey"`
	CustomerIdentifier string `json:"customer_identifier" gorm:"type:varchar(255);not null;index"`
	Status             string `json:"status" gorm:"type:varchar(16);not null;default:open"`
	// OpenCustomer mirrors CustomerIdentifier while the case is open and is
	// NULLed on closure. The unique index on it enforces at most one open
	// case per customer on both MySQL and SQLite, neither of which supports
	// partial unique indexes.
	OpenCustomer        *string    `json:"-" gorm:"type:varchar(255);uniqueIndex:uq_cases_open_customer"`
	CreatedAt           time.Time  `json:"created_at"`
	LastMessageAt       time.Time  `json:"last_message_at"`
	MessageCount        int        `json:"message_count" gorm:"not null;default:0"`
	Escalated           bool       `json:"escalated" gorm:"not null;default:false"`
	EscalatedAt         *time.Time `json:"escalated_at"`
	LastEscalationAlert *time.Time `json:"last_escalation_alert"`
	ClosedAt            *time.Time `json:"closed_at"`

	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:CaseID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for Case
func (Case) TableName() string {
	return "cases"
}

// IsOpen reports whether the case still accepts messages.
func (c *Case) IsOpen() bool {
	return c.Status == StatusOpen
}
