// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
//	n := utils.AtoiDefault("42", 0) // 42
//	n = utils.AtoiDefault("x", 5)   // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage parses page and limit query values. page falls back to 1 when
// missing or below 1; limit falls back to def when missing or below 1 and is
// capped at max.
func ClampPage(pageStr, limitStr string, def, max int) (page, limit int) {
	page = AtoiDefault(pageStr, 1)
	if page < 1 {
		page = 1
	}
	limit = AtoiDefault(limitStr, def)
	if limit < 1 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	return page, limit
}
