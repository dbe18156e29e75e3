package wallet

import (
	"errors"
	"fmt"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/types"
)

// Type classifies a ledger row. The sign of the movement follows from the type;
// Amount is always a positive magnitude.
type Type string

const (
	TypeDeposit             Type = "deposit"
	TypeWithdrawal          Type = "withdrawal"
	TypeEscrowHold          Type = "escrow_hold"
	TypePaymentRelease      Type = "payment_release"
	TypeAdminFee            Type = "admin_fee"
	TypeRefund              Type = "refund"
	TypeSubscriptionPayment Type = "subscription_payment"
)

// Valid reports whether t is a known ledger type.
func (t Type) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeEscrowHold, TypePaymentRelease,
		TypeAdminFee, TypeRefund, TypeSubscriptionPayment:
		return true
	}
	return false
}

// Credits reports whether rows of this type add to the wallet balance.
func (t Type) Credits() bool {
	switch t {
	case TypeDeposit, TypePaymentRelease, TypeAdminFee, TypeRefund:
		return true
	}
	return false
}

// Status is the settlement state of a ledger row.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ErrAlreadySettled is returned when a settled row is asked to transition again.
var ErrAlreadySettled = errors.New("wallet: transaction already settled")

// ReferenceKind names the kind of entity a ledger row points at.
type ReferenceKind string

const (
	RefNone         ReferenceKind = ""
	RefCase         ReferenceKind = "case"
	RefSubscription ReferenceKind = "subscription"
	RefMembership   ReferenceKind = "membership"
)

// Reference is a weak link from a ledger row to the entity it concerns.
// The kind fixes which ID prefix is allowed, so a case reference can never
// carry a subscription id.
type Reference struct {
	Kind ReferenceKind `json:"kind,omitempty"`
	ID   id.ID         `json:"id,omitempty"`
}

// CaseRef references a legal case.
func CaseRef(caseID id.CaseID) Reference { return Reference{Kind: RefCase, ID: caseID} }

// SubscriptionRef references a Pro subscription period.
func SubscriptionRef(subID id.SubscriptionID) Reference {
	return Reference{Kind: RefSubscription, ID: subID}
}

// MembershipRef references the account whose role was upgraded.
func MembershipRef(userID id.UserID) Reference {
	return Reference{Kind: RefMembership, ID: userID}
}

// IsZero reports whether the row has no reference.
func (r Reference) IsZero() bool { return r.Kind == RefNone && r.ID.IsNil() }

// Equal reports whether both references point at the same entity.
func (r Reference) Equal(other Reference) bool {
	return r.Kind == other.Kind && r.ID.Equal(other.ID)
}

// Validate checks that the ID prefix matches the kind.
func (r Reference) Validate() error {
	var want id.Prefix
	switch r.Kind {
	case RefNone:
		if !r.ID.IsNil() {
			return fmt.Errorf("wallet: reference id %s without kind", r.ID)
		}
		return nil
	case RefCase:
		want = id.PrefixCase
	case RefSubscription:
		want = id.PrefixSubscription
	case RefMembership:
		want = id.PrefixUser
	default:
		return fmt.Errorf("wallet: unknown reference kind %q", r.Kind)
	}
	if r.ID.Prefix() != want {
		return fmt.Errorf("wallet: %s reference needs a %q id, got %q", r.Kind, want, r.ID.Prefix())
	}
	return nil
}

// ParseReference rebuilds a Reference from its stored columns.
func ParseReference(kind, rawID string) (Reference, error) {
	if kind == "" && rawID == "" {
		return Reference{}, nil
	}
	parsed, err := id.Parse(rawID)
	if err != nil {
		return Reference{}, err
	}
	ref := Reference{Kind: ReferenceKind(kind), ID: parsed}
	return ref, ref.Validate()
}

// Transaction is one immutable ledger row. Only Status may change, and only
// once, from pending to a terminal state.
type Transaction struct {
	types.Entity
	ID          id.TransactionID `json:"id"`
	WalletID    id.WalletID      `json:"wallet_id"`
	Amount      types.Money      `json:"amount"`
	Type        Type             `json:"type"`
	Reference   Reference        `json:"reference"`
	Status      Status           `json:"status"`
	Description string           `json:"description"`
}

// Settle moves a pending row to a terminal status.
func (t *Transaction) Settle(to Status) error {
	if !to.Terminal() {
		return fmt.Errorf("wallet: cannot settle to %q", to)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadySettled, t.ID, t.Status)
	}
	t.Status = to
	return nil
}

// Validate checks the row before it is written.
func (t *Transaction) Validate() error {
	if t.WalletID.IsNil() {
		return errors.New("wallet: transaction without wallet")
	}
	if !t.Amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !t.Type.Valid() {
		return fmt.Errorf("wallet: unknown transaction type %q", t.Type)
	}
	switch t.Status {
	case StatusPending, StatusSuccess, StatusFailed:
	default:
		return fmt.Errorf("wallet: unknown transaction status %q", t.Status)
	}
	return t.Reference.Validate()
}

// ListOpts filters a wallet's history. Results are newest first.
type ListOpts struct {
	Type   Type
	Limit  int
	Offset int
}

// Settlement is the outcome of releasing an escrow hold: the hold itself,
// settled, and the two credits it was split into. Payout and Fee amounts
// always sum to the hold amount.
//
// A leg that rounds to zero books no row and is nil: Fee at a 0% platform
// fee or on holds below Rp 0,05 at 10%, Payout at 100%.
type Settlement struct {
	Hold   *Transaction `json:"hold"`
	Payout *Transaction `json:"payout"`
	Fee    *Transaction `json:"fee"`
}

// PayoutAmount returns the expert's share, zero when no payout was booked.
func (s *Settlement) PayoutAmount() types.Money { return s.leg(s.Payout) }

// FeeAmount returns the platform's share, zero when no fee was booked.
func (s *Settlement) FeeAmount() types.Money { return s.leg(s.Fee) }

func (s *Settlement) leg(t *Transaction) types.Money {
	if t != nil {
		return t.Amount
	}
	if s.Hold != nil {
		return types.Zero(s.Hold.Amount.Currency)
	}
	return types.Zero(types.CurrencyIDR)
}
