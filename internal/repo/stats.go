// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides a small aggregate query used to build
// weak ETags for the budget list.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-budget-backend/internal/domain"
	"github.com/tbourn/go-budget-backend/internal/query"
)

// BudgetsStats returns the number of budgets matching c and the greatest
// UpdatedAt among them. When nothing matches, maxUpdatedAt is nil.
func BudgetsStats(ctx context.Context, db *gorm.DB, c query.Criteria) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Budget{}).Scopes(c.Scope())

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	q = db.WithContext(ctx).Model(&domain.Budget{}).Scopes(c.Scope())
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
