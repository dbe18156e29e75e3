package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/meter"
	"github.com/xraph/escrow/plugin"
)

type proSet map[string]bool

func (s proSet) IsPro(_ context.Context, userID id.UserID) (bool, error) {
	return s[userID.String()], nil
}

type failingChecker struct{}

func (failingChecker) IsPro(context.Context, id.UserID) (bool, error) {
	return false, escrow.ErrUnexpected
}

type quotaRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *quotaRecorder) Name() string { return "quota-recorder" }

func (r *quotaRecorder) OnQuotaExceeded(_ context.Context, identity string, _, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, identity)
	return nil
}

func newTestAssistant(t *testing.T, pro ProChecker, opts ...Option) *Assistant {
	t.Helper()
	now := func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	m := meter.New(meter.NewMemoryCounter(now), meter.WithClock(now), meter.WithLocation(time.UTC))
	opts = append([]Option{WithRand(func(int) int { return 0 })}, opts...)
	return New(m, pro, opts...)
}

func TestAskPro(t *testing.T) {
	userID := id.NewUserID()
	a := newTestAssistant(t, proSet{userID.String(): true})
	ctx := context.Background()

	// Pro is never metered, so well past the free limit still answers.
	for range meter.DefaultDailyLimit + 2 {
		reply, err := a.Ask(ctx, Request{Message: "Saya kena PHK tanpa pesangon", UserID: userID})
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if reply.Tier != TierPro {
			t.Errorf("tier: got %q, want pro", reply.Tier)
		}
		if !reply.Unlimited() {
			t.Errorf("usage: got %+v, want unlimited", reply.Usage)
		}
		if reply.Escalation == nil || !reply.Escalation.CanEscalate {
			t.Error("pro reply should offer escalation")
		}
		if reply.Answer.Topic != "tenaga_kerja" {
			t.Errorf("topic: got %q", reply.Answer.Topic)
		}
		if !strings.Contains(reply.Answer.Text, "Pasal 156") {
			t.Errorf("pro answer should cite articles: %q", reply.Answer.Text)
		}
		if reply.Answer.Confidence != 0.85 {
			t.Errorf("confidence: got %v, want 0.85", reply.Answer.Confidence)
		}
	}
}

func TestAskFreeUntilQuota(t *testing.T) {
	userID := id.NewUserID()
	rec := &quotaRecorder{}
	reg := plugin.NewRegistry()
	if err := reg.Register(rec); err != nil {
		t.Fatal(err)
	}
	a := newTestAssistant(t, proSet{}, WithPlugins(reg))
	ctx := context.Background()

	wantCTA := []string{
		"",
		"Sisa 1 pertanyaan gratis. Upgrade ke Pro untuk akses unlimited!",
		"Sisa 0 pertanyaan gratis. Upgrade ke Pro untuk akses unlimited!",
	}
	for i, cta := range wantCTA {
		reply, err := a.Ask(ctx, Request{Message: "bagaimana cara menggugat wanprestasi?", UserID: userID})
		if err != nil {
			t.Fatalf("Ask #%d: %v", i+1, err)
		}
		if reply.Tier != TierFree {
			t.Errorf("tier: got %q, want free", reply.Tier)
		}
		if reply.Usage == nil || reply.Usage.Used != int64(i+1) {
			t.Fatalf("usage #%d: got %+v", i+1, reply.Usage)
		}
		if reply.UpgradeCTA != cta {
			t.Errorf("cta #%d: got %q, want %q", i+1, reply.UpgradeCTA, cta)
		}
		if reply.Answer.Topic != "perdata" || strings.Contains(reply.Answer.Text, "Pasal") {
			t.Errorf("free answer: topic %q text %q", reply.Answer.Topic, reply.Answer.Text)
		}
		if reply.Answer.Confidence != 0.5 {
			t.Errorf("confidence: got %v, want 0.5", reply.Answer.Confidence)
		}
	}

	_, err := a.Ask(ctx, Request{Message: "satu lagi", UserID: userID})
	if !errors.Is(err, escrow.ErrQuotaExceeded) {
		t.Fatalf("fourth Ask: got %v, want ErrQuotaExceeded", err)
	}
	var qe *meter.QuotaError
	if !errors.As(err, &qe) || !strings.HasPrefix(qe.Message, "Anda telah mencapai batas 3 pertanyaan gratis hari ini.") {
		t.Errorf("quota error: %v", err)
	}
	if len(rec.events) != 1 || rec.events[0] != meter.ForUser(userID).Key() {
		t.Errorf("quota events: got %v", rec.events)
	}
}

func TestAskGuestSessions(t *testing.T) {
	a := newTestAssistant(t, proSet{})
	ctx := context.Background()

	first, err := a.Ask(ctx, Request{Message: "apa itu hak asuh anak?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if first.Tier != TierGuest {
		t.Errorf("tier: got %q, want guest", first.Tier)
	}
	if first.SessionID == "" {
		t.Fatal("guest without session should get one")
	}

	second, err := a.Ask(ctx, Request{Message: "lagi", SessionID: first.SessionID})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if second.Usage.Used != 2 {
		t.Errorf("same session used: got %d, want 2", second.Usage.Used)
	}

	other, err := a.Ask(ctx, Request{Message: "lagi", SessionID: "another"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if other.Usage.Used != 1 {
		t.Errorf("other session used: got %d, want 1", other.Usage.Used)
	}
}

func TestAskValidation(t *testing.T) {
	a := newTestAssistant(t, proSet{})
	tests := []struct {
		name    string
		message string
	}{
		{"empty", ""},
		{"blank", "   \n"},
		{"too long", strings.Repeat("a", MaxMessageLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Ask(context.Background(), Request{Message: tt.message, SessionID: "s"})
			if !errors.Is(err, escrow.ErrInvalidMessage) {
				t.Errorf("got %v, want ErrInvalidMessage", err)
			}
			if !escrow.IsDomain(err) {
				t.Error("validation failure should be a domain error")
			}
		})
	}

	u, err := a.Usage(context.Background(), id.Nil, "s")
	if err != nil {
		t.Fatal(err)
	}
	if u.Used != 0 {
		t.Errorf("rejected messages must not be counted, used %d", u.Used)
	}
}

func TestAskEntitlementFailure(t *testing.T) {
	a := newTestAssistant(t, failingChecker{})
	_, err := a.Ask(context.Background(), Request{Message: "halo", UserID: id.NewUserID()})
	if !errors.Is(err, escrow.ErrUnexpected) {
		t.Fatalf("got %v, want ErrUnexpected", err)
	}
}

func TestUsage(t *testing.T) {
	proUser, freeUser := id.NewUserID(), id.NewUserID()
	a := newTestAssistant(t, proSet{proUser.String(): true})
	ctx := context.Background()

	u, err := a.Usage(ctx, proUser, "")
	if err != nil || u != nil {
		t.Fatalf("pro usage: got %+v, %v", u, err)
	}

	if _, err := a.Ask(ctx, Request{Message: "tanah warisan", UserID: freeUser}); err != nil {
		t.Fatal(err)
	}
	u, err = a.Usage(ctx, freeUser, "")
	if err != nil {
		t.Fatal(err)
	}
	want := meter.Usage{Limit: 3, Used: 1, Remaining: 2}
	if *u != want {
		t.Errorf("free usage: got %+v, want %+v", *u, want)
	}
}
