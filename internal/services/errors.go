package services

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

// Every failure returned by a service wraps exactly one of these. None of them
// leave partial writes behind.
var (
	// ErrNotFound is returned when a referenced book, user, record, reservation
	// or fine does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor neither owns the entity nor holds
	// a librarian or admin role.
	ErrForbidden = errors.New("forbidden")

	ErrAlreadyBorrowed   = errors.New("book already borrowed by this user")
	ErrAlreadyReturned   = errors.New("book has already been returned")
	ErrAlreadyReserved   = errors.New("a pending reservation already exists for this book")
	ErrAlreadyPaid       = errors.New("fine has already been paid")
	ErrNoCopiesAvailable = errors.New("no copies available for borrowing")

	// ErrBorrowLimitExceeded is returned when the borrower already holds
	// MaxActiveBorrows unreturned books.
	ErrBorrowLimitExceeded = errors.New("borrow limit reached")

	// ErrOutstandingOverdue is returned when the borrower holds an overdue book.
	ErrOutstandingOverdue = errors.New("borrower has overdue books")

	ErrInvalidState     = errors.New("invalid state")
	ErrValidationFailed = errors.New("validation failed")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrForbidden, "forbidden"},
	{ErrAlreadyBorrowed, "already_borrowed"},
	{ErrAlreadyReturned, "already_returned"},
	{ErrAlreadyReserved, "already_reserved"},
	{ErrAlreadyPaid, "already_paid"},
	{ErrNoCopiesAvailable, "no_copies_available"},
	{ErrBorrowLimitExceeded, "borrow_limit_exceeded"},
	{ErrOutstandingOverdue, "outstanding_overdue"},
	{ErrInvalidState, "invalid_state"},
	{ErrValidationFailed, "validation_failed"},
}

// Code returns the stable code for err: "ok" for nil, "internal" for errors
// that are not service failures.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsDomainError reports whether err is one of the service failures above.
func IsDomainError(err error) bool {
	c := Code(err)
	return c != "ok" && c != "internal"
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// isUniqueViolation checks for a unique-constraint error. gorm translates it
// when the dialect supports it; the string checks cover postgres (23505) and
// sqlite messages that slip through untranslated.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "UNIQUE constraint failed")
}
