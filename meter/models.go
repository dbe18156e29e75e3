// Package meter is the freemium usage counter for the AI chat: a daily
// per-identity count that resets at local midnight and gates free usage at
// a fixed quota.
package meter

import (
	"fmt"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
)

// KeyPrefix namespaces every counter key.
const KeyPrefix = "ai_chat_usage"

// Identity is whose usage is counted: a signed-in user or a guest session.
// Two guests never share a counter, and a user never shares one with a
// session.
type Identity struct {
	kind  string
	value string
}

// ForUser counts usage of a signed-in user.
func ForUser(userID id.UserID) Identity {
	return Identity{kind: "user", value: userID.String()}
}

// ForSession counts usage of a guest session.
func ForSession(sessionID string) Identity {
	return Identity{kind: "session", value: sessionID}
}

// IsGuest reports whether the identity is a guest session.
func (i Identity) IsGuest() bool { return i.kind == "session" }

// IsZero reports whether the identity names nobody.
func (i Identity) IsZero() bool { return i.value == "" }

// Key is the counter key, e.g. "ai_chat_usage:user:user_01h...".
func (i Identity) Key() string {
	return KeyPrefix + ":" + i.kind + ":" + i.value
}

func (i Identity) String() string { return i.Key() }

// Usage is the state of one identity's daily quota.
type Usage struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

func usage(limit, used int64) Usage {
	return Usage{Limit: limit, Used: used, Remaining: max(limit-used, 0)}
}

// QuotaError is returned once an identity has used its daily quota.
type QuotaError struct {
	Usage   Usage
	Message string
}

func (e *QuotaError) Error() string { return e.Message }

func (e *QuotaError) Unwrap() error { return escrow.ErrQuotaExceeded }

func newQuotaError(limit int64) *QuotaError {
	return &QuotaError{
		Usage: usage(limit, limit),
		Message: fmt.Sprintf("Anda telah mencapai batas %d pertanyaan gratis hari ini. "+
			"Silakan upgrade ke Pro untuk akses tak terbatas dan konsultasi langsung dengan ahli hukum.", limit),
	}
}
