// Package apperr is the error taxonomy shared by the business packages.
// Every expected failure carries a stable machine-readable code; the HTTP
// layer renders it as {error, code}.
package apperr

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies an expected failure.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindPermission
	KindConflict
	KindDuplicate
	KindSelfReview
	KindInvalidTransition
	KindUnauthenticated
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindDuplicate:
		return "duplicate"
	case KindSelfReview:
		return "self_review"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindUnauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

func (k Kind) status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindPermission:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// Error is an expected, caller-visible failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	// Fields holds itemised validation messages keyed by field name.
	Fields map[string][]string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// HTTPStatus returns the explicit status or the kind's default.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.status()
}

// WithStatus overrides the HTTP status for this error.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithField appends an itemised message for field.
func (e *Error) WithField(field, msg string) *Error {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
	return e
}

func newErr(k Kind, code, msg string) *Error {
	return &Error{Kind: k, Code: code, Message: msg}
}

func Validation(code, msg string) *Error        { return newErr(KindValidation, code, msg) }
func NotFound(code, msg string) *Error          { return newErr(KindNotFound, code, msg) }
func Permission(code, msg string) *Error        { return newErr(KindPermission, code, msg) }
func Conflict(code, msg string) *Error          { return newErr(KindConflict, code, msg) }
func Duplicate(code, msg string) *Error         { return newErr(KindDuplicate, code, msg) }
func SelfReview(code, msg string) *Error        { return newErr(KindSelfReview, code, msg) }
func InvalidTransition(code, msg string) *Error { return newErr(KindInvalidTransition, code, msg) }
func Unauthenticated(code, msg string) *Error   { return newErr(KindUnauthenticated, code, msg) }

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
