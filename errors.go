package library

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeNotAvailable       = "BOOK_NOT_AVAILABLE"
	textCodeInvalidTransition  = "INVALID_BORROW_STATE_TRANSITION"
	textCodeTerminalState      = "TERMINAL_BORROW_STATE"
	textCodeNotReturnable      = "NOT_RETURNABLE"
	textCodeHasActiveLoans     = "HAS_ACTIVE_LOANS"
	textCodeInvalidResize      = "RESIZE_BELOW_BORROWED"
	textCodeHasBorrowedBooks   = "MEMBER_HAS_BORROWED_BOOKS"
	textCodeUnauthenticated    = "UNAUTHENTICATED"
	textCodeSessionInvalidated = "SESSION_INVALIDATED"
	textCodeEmailExists        = "EMAIL_ALREADY_REGISTERED"
	textCodeTokenExpired       = "TOKEN_EXPIRED"
	textCodeTokenMalformed     = "TOKEN_MALFORMED"
	textCodeDeliveryFailed     = "MAIL_DELIVERY_FAILED"
	textCodeOpenLoan           = "OPEN_LOAN"
)

// ErrBookNotAvailable is returned when no free copy exists at decrement time.
var ErrBookNotAvailable = goerrors.New("no copies available for borrowing", goerrors.CategoryConflict).
	WithTextCode(textCodeNotAvailable).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid borrow state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move a request that already
// has a return date recorded.
var ErrTerminalState = goerrors.New("borrow request is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// ErrNotReturnable is returned for a return attempt on a request that is not
// currently Borrowed or Overdue (e.g. a double return).
var ErrNotReturnable = goerrors.New("borrow request is not in a returnable state", goerrors.CategoryConflict).
	WithTextCode(textCodeNotReturnable).
	WithCode(goerrors.CodeConflict)

// ErrHasActiveLoans blocks deleting a title while any copy is on loan.
var ErrHasActiveLoans = goerrors.New("cannot delete a book with borrowed copies", goerrors.CategoryConflict).
	WithTextCode(textCodeHasActiveLoans).
	WithCode(goerrors.CodeConflict)

// ErrInvalidResize blocks shrinking a title's copy pool below the borrowed count.
var ErrInvalidResize = goerrors.New("cannot reduce total copies below borrowed count", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidResize).
	WithCode(goerrors.CodeBadRequest)

// ErrOpenLoan blocks deleting a borrow record while the copy is still out.
var ErrOpenLoan = goerrors.New("cannot delete an open loan", goerrors.CategoryConflict).
	WithTextCode(textCodeOpenLoan).
	WithCode(goerrors.CodeConflict)

// ErrHasBorrowedBooks blocks deleting a member who still holds copies.
var ErrHasBorrowedBooks = goerrors.New("cannot delete member with borrowed books", goerrors.CategoryConflict).
	WithTextCode(textCodeHasBorrowedBooks).
	WithCode(goerrors.CodeConflict)

// ErrUnauthenticated is the gate rejection when a request carries no session.
var ErrUnauthenticated = goerrors.New("no active session", goerrors.CategoryAuth).
	WithTextCode(textCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionInvalidated is the gate rejection when a request carries a token
// that was superseded by a newer login or unbound by logout/deletion.
var ErrSessionInvalidated = goerrors.New("session is invalid or was superseded", goerrors.CategoryAuth).
	WithTextCode(textCodeSessionInvalidated).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailAlreadyRegistered is the registration conflict for a known email.
var ErrEmailAlreadyRegistered = goerrors.New("email already in use", goerrors.CategoryConflict).
	WithTextCode(textCodeEmailExists).
	WithCode(goerrors.CodeConflict)

// ErrTokenExpired is returned when the session token is past its expiry.
var ErrTokenExpired = goerrors.New("authentication token expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when the session token cannot be parsed.
var ErrTokenMalformed = goerrors.New("authentication token malformed", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrDeliveryFailed wraps notification gateway failures. It is always caught
// at the boundary of the lifecycle operation, logged, and discarded.
var ErrDeliveryFailed = goerrors.New("notification delivery failed", goerrors.CategoryOperation).
	WithTextCode(textCodeDeliveryFailed)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found")

// ErrMismatchedHashAndPassword is returned when credentials do not match
var ErrMismatchedHashAndPassword = errors.New("mismatched hash and password")

// ErrNoEmptyString rejects empty passwords before hashing
var ErrNoEmptyString = errors.New("password can not be an empty string")

// ErrUnableToDecodeSession unable to decode claims from a session token
var ErrUnableToDecodeSession = errors.New("unable to decode session")

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if goerrors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
