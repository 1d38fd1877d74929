package domain

import "fmt"

// ConflictError means history already exists for the requested scope (for
// example a signed draft covering the same period). Never auto-resolved.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }
func (e ConflictError) Code() string  { return "CONFLICT" }

// ValidationError is a malformed or incomplete request, local to the call.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }
func (e ValidationError) Code() string  { return "VALIDATION_ERROR" }

// IntegrityError means signed content no longer matches its recorded hash.
// Fatal for the operation that detected it; the draft is never re-signed.
type IntegrityError struct {
	DraftID  string
	Stored   string
	Computed string
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("document hash mismatch for draft %s: stored %s, computed %s", e.DraftID, e.Stored, e.Computed)
}

func (e IntegrityError) Code() string { return "INTEGRITY_ERROR" }

// ForbiddenError indicates a role or tenant mismatch.
type ForbiddenError struct {
	Message string
}

func (e ForbiddenError) Error() string { return e.Message }
func (e ForbiddenError) Code() string  { return "FORBIDDEN" }

func Validationf(format string, args ...any) ValidationError {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) ConflictError {
	return ConflictError{Message: fmt.Sprintf(format, args...)}
}
