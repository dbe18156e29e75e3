package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/escrow/types"
)

// Sentinel errors. Every failure returned by the engine matches exactly one
// of them with errors.Is.
var (
	// Domain violations
	ErrInvalidAmount     = errors.New("escrow: invalid amount")
	ErrCurrencyMismatch  = errors.New("escrow: currency mismatch")
	ErrNoWallet          = errors.New("escrow: no wallet")
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	ErrNoClient          = errors.New("escrow: case has no client")
	ErrNoExpertAssigned  = errors.New("escrow: no expert assigned")
	ErrInvalidCaseStatus = errors.New("escrow: invalid case status")
	ErrEscrowAlreadyHeld = errors.New("escrow: case already has a pending hold")
	ErrAlreadySubscribed = errors.New("escrow: already subscribed")
	ErrAlreadyCorporate  = errors.New("escrow: user already corporate")
	ErrNoPlatformAccount = errors.New("escrow: no platform account")
	ErrInvalidRole       = errors.New("escrow: invalid role")
	ErrNotExpert         = errors.New("escrow: user is not an expert")
	ErrExpertAssigned    = errors.New("escrow: case already has an expert")

	// Not found
	ErrUserNotFound         = errors.New("escrow: user not found")
	ErrWalletNotFound       = errors.New("escrow: wallet not found")
	ErrCaseNotFound         = errors.New("escrow: case not found")
	ErrSubscriptionNotFound = errors.New("escrow: subscription not found")
	ErrEscrowNotFound       = errors.New("escrow: no pending escrow hold")
	ErrTransactionNotFound  = errors.New("escrow: transaction not found")

	// Store
	ErrAlreadyExists = errors.New("escrow: already exists")
	ErrConflict      = errors.New("escrow: concurrent update conflict")
	ErrCaseChanged   = errors.New("escrow: case changed during release")
	ErrStoreClosed   = errors.New("escrow: store is closed")

	// Usage
	ErrQuotaExceeded  = errors.New("escrow: free usage quota exceeded")
	ErrInvalidMessage = errors.New("escrow: invalid chat message")

	ErrUnexpected = errors.New("escrow: unexpected error")
)

var domainErrors = []error{
	ErrInvalidAmount, ErrCurrencyMismatch, ErrNoWallet, ErrInsufficientFunds,
	ErrNoClient, ErrNoExpertAssigned, ErrInvalidCaseStatus, ErrEscrowAlreadyHeld,
	ErrAlreadySubscribed, ErrAlreadyCorporate, ErrNoPlatformAccount,
	ErrInvalidRole, ErrNotExpert, ErrExpertAssigned, ErrInvalidMessage,
}

var notFoundErrors = []error{
	ErrUserNotFound, ErrWalletNotFound, ErrCaseNotFound,
	ErrSubscriptionNotFound, ErrEscrowNotFound, ErrTransactionNotFound,
}

// Error is a failure with a user-facing message. Message is shown to the
// caller unchanged; Kind is the sentinel it matches.
type Error struct {
	Kind    error
	Message string
	cause   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.cause}
}

func newError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError reports a balance below the amount an operation needs.
type InsufficientFundsError struct {
	Balance   types.Money
	Required  types.Money
	Shortfall types.Money
	Message   string
}

func (e *InsufficientFundsError) Error() string { return e.Message }

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// AlreadySubscribedError carries the end of the subscription that blocks a purchase.
type AlreadySubscribedError struct {
	EndsAt  time.Time
	Message string
}

func (e *AlreadySubscribedError) Error() string { return e.Message }

func (e *AlreadySubscribedError) Unwrap() error { return ErrAlreadySubscribed }

// IsDomain returns true if err is a business rule violation.
func IsDomain(err error) bool { return isAny(err, domainErrors) }

// IsNotFound returns true if err reports a missing record.
func IsNotFound(err error) bool { return isAny(err, notFoundErrors) }

// IsRetryable returns true if the operation lost a race and may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrCaseChanged)
}

// IsUnexpected returns true for failures outside the known taxonomy.
func IsUnexpected(err error) bool { return errors.Is(err, ErrUnexpected) }

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// classify passes known failures through and wraps everything else as
// ErrUnexpected, keeping the cause reachable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) || IsNotFound(err) || IsRetryable(err) || IsUnexpected(err) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{
		Kind:    ErrUnexpected,
		Message: "escrow: unexpected error: " + err.Error(),
		cause:   err,
	}
}
