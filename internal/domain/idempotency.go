// Package domain defines the core persistence models for the application.
package domain

import "time"

// Idempotency records the budget produced by a previously processed create
// request, keyed by (user_id, key). A retried POST carrying the same
// Idempotency-Key gets the original budget back instead of a second one.
type Idempotency struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	UserID    string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_idem_user_key,priority:1"`
	Key       string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_idem_user_key,priority:2"`
	BudgetID  string    `gorm:"type:varchar(36);not null"`
	Status    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
