package observability

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/wallet"
)

type fakeCounter struct{ n float64 }

func (c *fakeCounter) Inc()          { c.n++ }
func (c *fakeCounter) Add(v float64) { c.n += v }

type fakeHistogram struct{ obs []float64 }

func (h *fakeHistogram) Observe(v float64) { h.obs = append(h.obs, v) }

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{counters: map[string]*fakeCounter{}, histograms: map[string]*fakeHistogram{}}
}

func (f *fakeFactory) Counter(name string) Counter {
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) Histogram {
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func TestEscrowMetrics(t *testing.T) {
	f := newFakeFactory()
	m := NewMetricsExtension(f)
	ctx := context.Background()

	_ = m.OnDeposit(ctx, &wallet.Transaction{Amount: types.Rupiah(1_000_000)})
	_ = m.OnEscrowLocked(ctx, &legalcase.Case{}, &wallet.Transaction{Amount: types.Rupiah(500_000)})
	_ = m.OnEscrowReleased(ctx, &legalcase.Case{}, &wallet.Settlement{
		Hold:   &wallet.Transaction{Amount: types.Rupiah(500_000)},
		Payout: &wallet.Transaction{Amount: types.Rupiah(450_000)},
		Fee:    &wallet.Transaction{Amount: types.IDR(5_000_050)},
	})

	if got := f.counters["escrow.wallet.deposits"].n; got != 1 {
		t.Errorf("deposits: got %v", got)
	}
	if got := f.histograms["escrow.wallet.deposit_amount"].obs; len(got) != 1 || got[0] != 1_000_000 {
		t.Errorf("deposit amount: got %v", got)
	}
	if got := f.counters["escrow.hold.platform_fees"].n; got != 50_000.5 {
		t.Errorf("platform fees: got %v", got)
	}
	if got := f.histograms["escrow.hold.payout_amount"].obs; len(got) != 1 || got[0] != 450_000 {
		t.Errorf("payout amount: got %v", got)
	}
}

func TestOperationFailedBuckets(t *testing.T) {
	f := newFakeFactory()
	m := NewMetricsExtension(f)
	ctx := context.Background()

	_ = m.OnOperationFailed(ctx, "lock_funds", &escrow.InsufficientFundsError{})
	_ = m.OnOperationFailed(ctx, "release_funds", escrow.ErrNoExpertAssigned)
	_ = m.OnOperationFailed(ctx, "release_funds", escrow.ErrEscrowNotFound)
	_ = m.OnOperationFailed(ctx, "top_up", fmt.Errorf("%w: boom", escrow.ErrUnexpected))

	tests := []struct {
		name string
		want float64
	}{
		{"escrow.operation.insufficient_funds", 1},
		{"escrow.operation.rejected", 3},
		{"escrow.operation.unexpected", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.counters[tt.name].n; got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := NewPrometheusFactory(reg)
	m := NewMetricsExtension(f)

	_ = m.OnQuotaExceeded(context.Background(), "ai_chat_usage:session:x", 3, 3)
	_ = m.OnQuotaExceeded(context.Background(), "ai_chat_usage:session:y", 3, 3)

	// A second extension on the same factory must not re-register.
	_ = NewMetricsExtension(f)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var got float64
	var found bool
	for _, fam := range families {
		if fam.GetName() == "escrow_chat_quota_exceeded_total" {
			found = true
			got = fam.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if !found {
		t.Fatal("escrow_chat_quota_exceeded_total not registered")
	}
	if got != 2 {
		t.Errorf("quota_exceeded: got %v, want 2", got)
	}
}

func TestPromName(t *testing.T) {
	if got := promName("escrow.hold.payout-amount"); got != "escrow_hold_payout_amount" {
		t.Errorf("got %q", got)
	}
}
