// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the named counter store that feeds
// sequential budget identifiers.
//
// Every mutation is a single SQL statement so concurrent callers never
// observe a read-then-write window. The upsert form
//
//	INSERT … ON CONFLICT (name) DO UPDATE … RETURNING seq
//
// is understood by both SQLite (3.35+) and PostgreSQL.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// IncrementCounter atomically adds one to the named counter and returns the
// new value. An absent counter starts from an implicit 0, so the first call
// returns 1.
func IncrementCounter(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	var seq int64
	err := db.WithContext(ctx).Raw(
		`INSERT INTO counters (name, seq, updated_at) VALUES (?, 1, ?)
		 ON CONFLICT (name) DO UPDATE SET seq = counters.seq + 1, updated_at = excluded.updated_at
		 RETURNING seq`, name, time.Now().UTC(),
	).Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	if seq == 0 {
		return 0, errors.New("counter increment returned no row")
	}
	return seq, nil
}

// SetCounter unconditionally sets the named counter to value, creating it if
// needed.
func SetCounter(ctx context.Context, db *gorm.DB, name string, value int64) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO counters (name, seq, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET seq = excluded.seq, updated_at = excluded.updated_at`,
		name, value, time.Now().UTC(),
	).Error
}

// GetCounter returns the current value of the named counter, or ErrNotFound
// if it has never been created.
func GetCounter(ctx context.Context, db *gorm.DB, name string) (int64, error) {
	var row struct{ Seq int64 }
	res := db.WithContext(ctx).Raw("SELECT seq FROM counters WHERE name = ?", name).Scan(&row)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrNotFound
	}
	return row.Seq, nil
}

// DecrementCounterIf lowers the counter by one only while it still equals
// expected. It reports whether a row was changed.
func DecrementCounterIf(ctx context.Context, db *gorm.DB, name string, expected int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE counters SET seq = seq - 1, updated_at = ? WHERE name = ? AND seq = ? AND seq > 0`,
		time.Now().UTC(), name, expected,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
