// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Budget
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a budget is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On other DB errors the raw gorm error is propagated.
//
// Listing, counting and summarizing all accept a query.Criteria so the three
// paths share exactly one filter construction.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/query"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// StatusTotal is one row of the per-status aggregation.
type StatusTotal struct {
	Status      domain.Status
	Count       int64
	TotalAmount float64
}

// CreateBudget inserts b as-is. The caller assigns ID, Identifier and
// timestamps.
func CreateBudget(ctx context.Context, db *gorm.DB, b *domain.Budget) error {
	return db.WithContext(ctx).Create(b).Error
}

// GetBudget fetches a budget by its opaque ID.
func GetBudget(ctx context.Context, db *gorm.DB, id string) (*domain.Budget, error) {
	var b domain.Budget
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveBudget writes every mutable column of b. Identifier, owner and
// creation time are excluded so they can never be rewritten by an update.
func SaveBudget(ctx context.Context, db *gorm.DB, b *domain.Budget) error {
	b.IndexText()
	res := db.WithContext(ctx).
		Model(&domain.Budget{}).
		Where("id = ?", b.ID).
		Select("title", "client", "description", "amount", "status", "updated_at",
			"attachment_original_name", "attachment_stored_name", "attachment_mime_type",
			"attachment_size", "attachment_url", "client_fold", "search_fold").
		Updates(map[string]any{
			"title":                    b.Title,
			"client":                   b.Client,
			"description":              b.Description,
			"amount":                   b.Amount,
			"status":                   string(b.Status),
			"updated_at":               b.UpdatedAt,
			"attachment_original_name": b.Attachment.OriginalName,
			"attachment_stored_name":   b.Attachment.StoredName,
			"attachment_mime_type":     b.Attachment.MimeType,
			"attachment_size":          b.Attachment.Size,
			"attachment_url":           b.Attachment.URL,
			"client_fold":              b.ClientKey,
			"search_fold":              b.SearchKey,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBudget removes the budget with the given ID.
func DeleteBudget(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Budget{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountBudgets returns how many budgets match c.
func CountBudgets(ctx context.Context, db *gorm.DB, c query.Criteria) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Budget{}).
		Scopes(c.Scope()).
		Count(&total).Error
	return total, err
}

// ListBudgetsPage returns a page of budgets matching c, newest identifier
// first. A negative limit returns every match.
func ListBudgetsPage(ctx context.Context, db *gorm.DB, c query.Criteria, offset, limit int) ([]domain.Budget, error) {
	out := []domain.Budget{}
	q := db.WithContext(ctx).
		Scopes(c.Scope()).
		Order("identifier DESC")
	if limit >= 0 {
		q = q.Offset(offset).Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// SummarizeBudgets groups the budgets matching c by status. Statuses with no
// matching rows are absent from the result.
func SummarizeBudgets(ctx context.Context, db *gorm.DB, c query.Criteria) ([]StatusTotal, error) {
	agg := c.Summary()
	q := db.WithContext(ctx).
		Model(&domain.Budget{}).
		Select(agg.Select)
	if agg.Where.SQL != "" {
		q = q.Where(agg.Where.SQL, agg.Where.Args...)
	}
	var out []StatusTotal
	err := q.Group(agg.GroupBy).Scan(&out).Error
	return out, err
}

// MaxIdentifier returns the highest identifier in use, or 0 when the table
// is empty.
func MaxIdentifier(ctx context.Context, db *gorm.DB) (int64, error) {
	var max int64
	err := db.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(identifier), 0) FROM budgets").
		Scan(&max).Error
	return max, err
}
