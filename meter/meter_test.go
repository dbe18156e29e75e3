package meter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMeter(t *testing.T, opts ...Option) (*Meter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now), WithLocation(time.UTC)}, opts...)
	return New(NewMemoryCounter(clock.Now), opts...), clock
}

func TestConsumeUpToLimit(t *testing.T) {
	m, _ := newTestMeter(t)
	ctx := context.Background()
	who := ForUser(id.NewUserID())

	for i := int64(1); i <= DefaultDailyLimit; i++ {
		u, err := m.Consume(ctx, who)
		if err != nil {
			t.Fatalf("Consume #%d: %v", i, err)
		}
		want := Usage{Limit: DefaultDailyLimit, Used: i, Remaining: DefaultDailyLimit - i}
		if u != want {
			t.Fatalf("Consume #%d: got %+v, want %+v", i, u, want)
		}
	}

	u, err := m.Consume(ctx, who)
	if !errors.Is(err, escrow.ErrQuotaExceeded) {
		t.Fatalf("fourth Consume: got %v, want ErrQuotaExceeded", err)
	}
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("fourth Consume: error %T is not *QuotaError", err)
	}
	if u.Remaining != 0 || u.Used != DefaultDailyLimit {
		t.Errorf("exhausted usage: got %+v", u)
	}
	if qe.Message == "" {
		t.Error("quota error has no message")
	}

	// A rejected call must not be counted.
	peek, err := m.Peek(ctx, who)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if peek.Used != DefaultDailyLimit {
		t.Errorf("Peek after rejection: got used %d, want %d", peek.Used, DefaultDailyLimit)
	}
}

func TestConsumeResetsAtMidnight(t *testing.T) {
	m, clock := newTestMeter(t, WithLimit(1))
	ctx := context.Background()
	who := ForSession("sess-1")

	if _, err := m.Consume(ctx, who); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if _, err := m.Consume(ctx, who); !errors.Is(err, escrow.ErrQuotaExceeded) {
		t.Fatalf("second Consume: got %v", err)
	}

	clock.Advance(14*time.Hour + 29*time.Minute) // 23:59
	if _, err := m.Consume(ctx, who); !errors.Is(err, escrow.ErrQuotaExceeded) {
		t.Fatalf("Consume at 23:59: got %v", err)
	}

	clock.Advance(time.Minute) // midnight
	u, err := m.Consume(ctx, who)
	if err != nil {
		t.Fatalf("Consume after midnight: %v", err)
	}
	if u.Used != 1 {
		t.Errorf("used after reset: got %d, want 1", u.Used)
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	m, _ := newTestMeter(t, WithLimit(1))
	ctx := context.Background()

	userID := id.NewUserID()
	ids := []Identity{
		ForUser(userID),
		ForUser(id.NewUserID()),
		ForSession("a"),
		ForSession("b"),
		ForSession(userID.String()),
	}
	for _, who := range ids {
		if _, err := m.Consume(ctx, who); err != nil {
			t.Errorf("Consume(%s): %v", who, err)
		}
	}
}

func TestConsumeEmptyIdentity(t *testing.T) {
	m, _ := newTestMeter(t)
	if _, err := m.Consume(context.Background(), Identity{}); err == nil {
		t.Fatal("expected error for empty identity")
	}
}

func TestIdentityKey(t *testing.T) {
	userID := id.NewUserID()
	tests := []struct {
		name  string
		who   Identity
		key   string
		guest bool
	}{
		{"user", ForUser(userID), "ai_chat_usage:user:" + userID.String(), false},
		{"session", ForSession("abc"), "ai_chat_usage:session:abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.who.Key(); got != tt.key {
				t.Errorf("Key: got %q, want %q", got, tt.key)
			}
			if got := tt.who.IsGuest(); got != tt.guest {
				t.Errorf("IsGuest: got %v, want %v", got, tt.guest)
			}
		})
	}
}

func TestResetAt(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			"morning utc",
			time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
			time.UTC,
			time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			"exact midnight",
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			time.UTC,
			time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			"utc evening is next day in jakarta",
			time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC),
			jakarta,
			time.Date(2026, 1, 3, 0, 0, 0, 0, jakarta),
		},
		{
			"month end",
			time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
			time.UTC,
			time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResetAt(tt.now, tt.loc); !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryCounterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_000, 0)}
	c := NewMemoryCounter(clock.Now)
	ctx := context.Background()

	if _, err := c.Incr(ctx, "k", clock.now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Get(ctx, "k"); n != 1 {
		t.Fatalf("Get: got %d, want 1", n)
	}
	clock.Advance(time.Second)
	if n, _ := c.Get(ctx, "k"); n != 0 {
		t.Fatalf("Get after expiry: got %d, want 0", n)
	}
	if n, _ := c.Incr(ctx, "k", clock.now.Add(time.Second)); n != 1 {
		t.Fatalf("Incr after expiry: got %d, want 1", n)
	}
	if err := c.Decr(ctx, "missing"); err != nil {
		t.Fatalf("Decr missing: %v", err)
	}
}
