package meter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultDailyLimit is the number of free questions per identity per day.
const DefaultDailyLimit = 3

// Meter enforces the daily free quota on top of a Counter.
type Meter struct {
	counter  Counter
	limit    int64
	clock    func() time.Time
	location *time.Location
}

// Option configures a Meter.
type Option func(*Meter)

// WithLimit sets the daily quota. Non-positive values are ignored.
func WithLimit(n int64) Option {
	return func(m *Meter) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Meter) { m.clock = clock }
}

// WithLocation sets the time zone whose midnight resets the counters.
func WithLocation(loc *time.Location) Option {
	return func(m *Meter) { m.location = loc }
}

// New creates a Meter over counter.
func New(counter Counter, opts ...Option) *Meter {
	m := &Meter{
		counter:  counter,
		limit:    DefaultDailyLimit,
		clock:    time.Now,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit returns the daily quota.
func (m *Meter) Limit() int64 { return m.limit }

// Consume counts one use for who. Past the quota it takes the use back and
// returns a *QuotaError carrying the exhausted usage.
func (m *Meter) Consume(ctx context.Context, who Identity) (Usage, error) {
	if who.IsZero() {
		return Usage{}, errors.New("meter: empty identity")
	}

	n, err := m.counter.Incr(ctx, who.Key(), ResetAt(m.clock(), m.location))
	if err != nil {
		return Usage{}, fmt.Errorf("meter: count %s: %w", who, err)
	}
	if n > m.limit {
		if err := m.counter.Decr(ctx, who.Key()); err != nil {
			return Usage{}, fmt.Errorf("meter: release %s: %w", who, err)
		}
		qe := newQuotaError(m.limit)
		return qe.Usage, qe
	}
	return usage(m.limit, n), nil
}

// Peek returns who's usage without counting.
func (m *Meter) Peek(ctx context.Context, who Identity) (Usage, error) {
	n, err := m.counter.Get(ctx, who.Key())
	if err != nil {
		return Usage{}, fmt.Errorf("meter: read %s: %w", who, err)
	}
	return usage(m.limit, min(n, m.limit)), nil
}

// ResetAt is the next local midnight after now.
func ResetAt(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, mo, d := local.Date()
	return time.Date(y, mo, d+1, 0, 0, 0, 0, loc)
}
