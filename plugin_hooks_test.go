package escrow_test

import (
	"context"
	"sync"

	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// recorder captures every hook the engine fires.
type recorder struct {
	mu  sync.Mutex
	log map[string][]any
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(kind string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log == nil {
		r.log = make(map[string][]any)
	}
	r.log[kind] = append(r.log[kind], v)
	return nil
}

func (r *recorder) events(kind string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log[kind]
}

func (r *recorder) OnDeposit(_ context.Context, t *wallet.Transaction) error {
	return r.add("deposit", t)
}

func (r *recorder) OnEscrowLocked(_ context.Context, _ *legalcase.Case, hold *wallet.Transaction) error {
	return r.add("locked", hold)
}

func (r *recorder) OnEscrowReleased(_ context.Context, _ *legalcase.Case, s *wallet.Settlement) error {
	return r.add("released", s)
}

func (r *recorder) OnSubscriptionCreated(_ context.Context, sub *subscription.Subscription) error {
	return r.add("subscribed", sub)
}

func (r *recorder) OnSubscriptionRenewed(_ context.Context, sub *subscription.Subscription) error {
	return r.add("renewed", sub)
}

func (r *recorder) OnSubscriptionExpired(_ context.Context, sub *subscription.Subscription) error {
	return r.add("expired", sub)
}

func (r *recorder) OnMembershipUpgraded(_ context.Context, u *user.User, _ *wallet.Transaction) error {
	return r.add("upgraded", u)
}

func (r *recorder) OnOperationFailed(_ context.Context, op string, err error) error {
	return r.add("failed", op+": "+err.Error())
}
