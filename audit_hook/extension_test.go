package audithook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

type memRecorder struct {
	events []*AuditEvent
	err    error
}

func (r *memRecorder) Record(_ context.Context, evt *AuditEvent) error {
	r.events = append(r.events, evt)
	return r.err
}

func (r *memRecorder) actions() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

func fire(ctx context.Context, e *Extension) {
	c := &legalcase.Case{ID: id.NewCaseID(), Number: "RCI-20260214-00001", ExpertID: id.NewUserID()}
	tx := func(amount int64) *wallet.Transaction {
		return &wallet.Transaction{ID: id.NewTransactionID(), WalletID: id.NewWalletID(), Amount: types.Rupiah(amount)}
	}
	sub := &subscription.Subscription{
		ID:       id.NewSubscriptionID(),
		UserID:   id.NewUserID(),
		PlanName: "pro",
		StartsAt: time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
	}

	_ = e.OnDeposit(ctx, tx(100000))
	_ = e.OnEscrowLocked(ctx, c, tx(500000))
	_ = e.OnEscrowReleased(ctx, c, &wallet.Settlement{Hold: tx(500000), Payout: tx(450000), Fee: tx(50000)})
	_ = e.OnSubscriptionCreated(ctx, sub)
	_ = e.OnSubscriptionRenewed(ctx, sub)
	_ = e.OnSubscriptionExpired(ctx, sub)
	_ = e.OnMembershipUpgraded(ctx, &user.User{ID: id.NewUserID(), Role: user.RoleCorporate}, tx(50000))
	_ = e.OnOperationFailed(ctx, "top_up", escrow.ErrInvalidAmount)
	_ = e.OnQuotaExceeded(ctx, "ai_chat_usage:session:abc", 3, 3)
}

func TestRecordsEveryAction(t *testing.T) {
	rec := &memRecorder{}
	fire(context.Background(), New(rec))

	got := rec.actions()
	want := AllActions()
	if len(got) != len(want) {
		t.Fatalf("actions: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action %d: got %q, want %q", i, got[i], want[i])
		}
	}

	released := rec.events[2]
	if released.Resource != ResourceCase || released.Metadata["payout"] != types.Rupiah(450000).String() {
		t.Errorf("released event: %+v", released)
	}
	quota := rec.events[len(rec.events)-1]
	if quota.ResourceID != "ai_chat_usage:session:abc" || quota.Metadata["limit"] != int64(3) {
		t.Errorf("quota event: %+v", quota)
	}
}

func TestOperationFailedSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		severity string
	}{
		{"domain", escrow.ErrInsufficientFunds, SeverityWarning},
		{"not found", escrow.ErrCaseNotFound, SeverityWarning},
		{"unexpected", fmt.Errorf("%w: disk full", escrow.ErrUnexpected), SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memRecorder{}
			_ = New(rec).OnOperationFailed(context.Background(), "release_funds", tt.err)
			if len(rec.events) != 1 {
				t.Fatalf("events: got %d", len(rec.events))
			}
			evt := rec.events[0]
			if evt.Severity != tt.severity {
				t.Errorf("severity: got %q, want %q", evt.Severity, tt.severity)
			}
			if evt.Outcome != OutcomeFailure || evt.Reason != tt.err.Error() {
				t.Errorf("event: %+v", evt)
			}
		})
	}
}

func TestActionFilters(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want int
	}{
		{"enabled only", WithEnabledActions(ActionEscrowReleased, ActionQuotaExceeded), 2},
		{"disabled", WithDisabledActions(ActionOperationFailed), len(AllActions()) - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memRecorder{}
			fire(context.Background(), New(rec, tt.opt))
			if len(rec.events) != tt.want {
				t.Errorf("events: got %v, want %d", rec.actions(), tt.want)
			}
		})
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	rec := &memRecorder{err: errors.New("backend down")}
	e := New(rec)
	if err := e.OnDeposit(context.Background(), &wallet.Transaction{ID: id.NewTransactionID()}); err != nil {
		t.Fatalf("OnDeposit: %v", err)
	}
}
