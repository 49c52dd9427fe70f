// Package domain defines the core persistence models for the application.
// These types are mapped with GORM and shared across the repository,
// service, and HTTP layers.
package domain

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a budget.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Statuses lists every valid Status in the stable order used by summaries.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected}

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Role is the capability level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// BudgetCounter is the name of the counter that feeds Budget.Identifier.
const BudgetCounter = "budgetId"

// Counter is a named monotonic integer sequence. Seq holds the highest value
// handed out so far.
type Counter struct {
	Name      string    `json:"name"       gorm:"type:varchar(64);primaryKey"`
	Seq       int64     `json:"seq"        gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Counter.
func (Counter) TableName() string { return "counters" }

// Attachment describes the single optional file stored alongside a budget.
// All fields are empty when the budget has no file.
type Attachment struct {
	OriginalName string `json:"originalName" gorm:"type:varchar(255)"`
	StoredName   string `json:"filename"     gorm:"type:varchar(255)"`
	MimeType     string `json:"mimeType"     gorm:"type:varchar(100)"`
	Size         int64  `json:"size"`
	URL          string `json:"url"          gorm:"type:varchar(512)"`
}

// Empty reports whether no file is attached.
func (a Attachment) Empty() bool { return a.StoredName == "" }

// Budget is a quote issued to a client.
//
// Fields:
//   - ID: opaque UUID primary key.
//   - Identifier: human-facing sequential number, unique, assigned once on
//     creation and never renumbered.
//   - OwnerID: the user that created the budget.
//   - Status: one of pending, approved, rejected (DB CHECK).
//   - Attachment: embedded file metadata (columns prefixed attachment_).
//   - ClientKey, SearchKey: case-folded copies of client and of
//     title/client/description used by text filters. Kept in sync by
//     BeforeSave and never serialized.
type Budget struct {
	ID          string     `json:"id"          gorm:"type:char(36);primaryKey"`
	Identifier  int64      `json:"identifier"  gorm:"not null;uniqueIndex:ux_budgets_identifier"`
	OwnerID     string     `json:"owner"       gorm:"type:char(36);not null;index:idx_budgets_owner"`
	Title       string     `json:"title"       gorm:"type:varchar(100);not null;default:''"`
	Client      string     `json:"client"      gorm:"type:varchar(100);not null"`
	Description string     `json:"description" gorm:"type:varchar(500);not null;default:''"`
	Amount      float64    `json:"amount"      gorm:"not null;check:amount >= 0"`
	Status      Status     `json:"status"      gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','approved','rejected')"`
	CreatedAt   time.Time  `json:"createdAt"   gorm:"index:idx_budgets_created"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Attachment  Attachment `json:"attachment"  gorm:"embedded;embeddedPrefix:attachment_"`
	ClientKey   string     `json:"-"           gorm:"column:client_fold;type:text;not null;default:''"`
	SearchKey   string     `json:"-"           gorm:"column:search_fold;type:text;not null;default:''"`
}

// TableName returns the database table name for Budget.
func (Budget) TableName() string { return "budgets" }

// searchSep separates fields inside SearchKey so a term cannot match across
// two fields.
const searchSep = "\x1f"

// Fold returns the case-folded NFC form of s. Text filters compare folded
// terms against folded columns, so matching does not depend on the
// database's own case rules, which are ASCII-only on SQLite.
func Fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// IndexText recomputes ClientKey and SearchKey from the current fields.
func (b *Budget) IndexText() {
	b.ClientKey = Fold(b.Client)
	b.SearchKey = Fold(strings.Join([]string{b.Title, b.Client, b.Description}, searchSep))
}

// BeforeSave keeps the folded search columns in sync on Create and Save.
func (b *Budget) BeforeSave(*gorm.DB) error {
	b.IndexText()
	return nil
}

// Field is one labelled value of a flattened budget.
type Field struct {
	Label string
	Value string
}

// Fields renders the budget as an ordered list of labelled values. PDF,
// e-mail and spreadsheet renderers consume this list rather than the struct.
func (b *Budget) Fields() []Field {
	out := []Field{
		{Label: "Identifier", Value: strconv.FormatInt(b.Identifier, 10)},
		{Label: "Title", Value: b.Title},
		{Label: "Client", Value: b.Client},
		{Label: "Description", Value: b.Description},
		{Label: "Amount", Value: strconv.FormatFloat(b.Amount, 'f', 2, 64)},
		{Label: "Status", Value: string(b.Status)},
		{Label: "Created", Value: b.CreatedAt.UTC().Format("2006-01-02 15:04")},
	}
	if !b.Attachment.Empty() {
		out = append(out, Field{Label: "Attachment", Value: b.Attachment.OriginalName})
	}
	return out
}

// User is an account that can own budgets. PasswordHash is never serialized.
type User struct {
	ID           string    `json:"id"        gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"     gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"         gorm:"type:varchar(100);not null"`
	Name         string    `json:"name"      gorm:"type:varchar(50);not null;default:''"`
	Role         Role      `json:"role"      gorm:"type:varchar(16);not null;default:'user';check:role IN ('user','admin')"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }
