package plugin

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/wallet"
)

type panicky struct{}

func (panicky) Name() string { return "panicky" }

func (panicky) OnEscrowReleased(context.Context, *legalcase.Case, *wallet.Settlement) error {
	var s *wallet.Settlement
	_ = s.Hold.Amount // nil dereference
	return nil
}

type counting struct{ calls int }

func (*counting) Name() string { return "counting" }

func (c *counting) OnEscrowReleased(context.Context, *legalcase.Case, *wallet.Settlement) error {
	c.calls++
	return nil
}

func TestEmitRecoversPanics(t *testing.T) {
	var logs bytes.Buffer
	r := NewRegistry().WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))

	after := &counting{}
	for _, p := range []Plugin{panicky{}, after} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.Name(), err)
		}
	}

	s := &wallet.Settlement{Hold: &wallet.Transaction{Amount: types.IDR(4)}}
	r.EmitEscrowReleased(context.Background(), &legalcase.Case{}, s)

	if after.calls != 1 {
		t.Errorf("later plugin calls: got %d, want 1", after.calls)
	}
	if !strings.Contains(logs.String(), "plugin panic: panicky") {
		t.Errorf("panic not logged: %s", logs.String())
	}
}
