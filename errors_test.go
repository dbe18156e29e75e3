package escrow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/escrow/types"
)

func TestClassify(t *testing.T) {
	raw := errors.New("connection reset")

	tests := []struct {
		name       string
		err        error
		domain     bool
		notFound   bool
		retryable  bool
		unexpected bool
	}{
		{"domain error", newError(ErrNoWallet, "x"), true, false, false, false},
		{"insufficient", &InsufficientFundsError{Balance: types.IDR(1), Required: types.IDR(2)}, true, false, false, false},
		{"already subscribed", &AlreadySubscribedError{}, true, false, false, false},
		{"not found", fmt.Errorf("load: %w", ErrCaseNotFound), false, true, false, false},
		{"escrow row missing", ErrEscrowNotFound, false, true, false, false},
		{"case changed", ErrCaseChanged, false, false, true, false},
		{"conflict", ErrConflict, false, false, true, false},
		{"raw driver error", raw, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			if got := IsDomain(err); got != tt.domain {
				t.Errorf("IsDomain: got %v", got)
			}
			if got := IsNotFound(err); got != tt.notFound {
				t.Errorf("IsNotFound: got %v", got)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable: got %v", got)
			}
			if got := IsUnexpected(err); got != tt.unexpected {
				t.Errorf("IsUnexpected: got %v", got)
			}
		})
	}

	wrapped := classify(raw)
	if !errors.Is(wrapped, raw) {
		t.Error("unexpected error should keep its cause")
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
	if err := classify(context.Canceled); !errors.Is(err, context.Canceled) || IsUnexpected(err) {
		t.Errorf("context errors pass through: %v", err)
	}
}

func TestErrorMessageIsUserFacing(t *testing.T) {
	err := newError(ErrInvalidAmount, "Jumlah top-up harus lebih dari 0.")
	if err.Error() != "Jumlah top-up harus lebih dari 0." {
		t.Errorf("got %q", err.Error())
	}
	if !errors.Is(err, ErrInvalidAmount) {
		t.Error("kind should match")
	}
}
