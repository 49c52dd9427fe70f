// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them rather
// than on messages. Every error response carries one of these codes together
// with the HTTP status (see fail and writeError in response.go).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_failed",
//	  "message": "validation failed",
//	  "errors": [{"field": "amount", "message": "is required"}]
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeValidation   = "validation_failed"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	ErrCodeMethodNotAllowed     = "method_not_allowed"
	ErrCodePayloadTooLarge      = "payload_too_large"
	ErrCodeUnsupportedMediaType = "unsupported_media_type"

	// ErrCodeUpstream is returned when the file store, PDF renderer or mail
	// relay fails. The budget itself is left untouched.
	ErrCodeUpstream = "upstream_failed"
)
