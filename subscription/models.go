// Package subscription models Pro membership periods and the plan they are
// billed against.
package subscription

import (
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/types"
)

// Status of a subscription row.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusPending   Status = "pending"
)

// PlanPro is the only plan sold today.
const PlanPro = "pro"

// Subscription is one paid period of a plan. A renewal is a new row whose
// StartsAt continues from the EndsAt of the latest active row.
type Subscription struct {
	types.Entity
	ID          id.SubscriptionID `json:"id"`
	UserID      id.UserID         `json:"user_id"`
	PlanName    string            `json:"plan_name"`
	Price       types.Money       `json:"price"`
	Status      Status            `json:"status"`
	StartsAt    time.Time         `json:"starts_at"`
	EndsAt      time.Time         `json:"ends_at"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
}

// ActiveAt reports whether the subscription grants its plan at t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	return s.Status == StatusActive && s.EndsAt.After(t)
}

// DaysLeft is the number of whole days between now and EndsAt, never negative.
func (s *Subscription) DaysLeft(now time.Time) int {
	if !s.EndsAt.After(now) {
		return 0
	}
	return int(s.EndsAt.Sub(now) / (24 * time.Hour))
}

// Plan is the price and period of a sellable plan.
type Plan struct {
	Name     string        `json:"name"`
	Price    types.Money   `json:"price"`
	Duration time.Duration `json:"duration"`
	Features []string      `json:"features"`
}

// DefaultProPlan is Rp 50.000 for 30 days.
func DefaultProPlan() Plan {
	return Plan{
		Name:     PlanPro,
		Price:    types.Rupiah(50000),
		Duration: 30 * 24 * time.Hour,
		Features: []string{
			"Konsultasi AI tanpa batas",
			"Analisis hukum mendalam",
			"Referensi pasal lengkap",
			"Prioritas respons",
		},
	}
}

// Days is the plan period in whole days.
func (p Plan) Days() int { return int(p.Duration / (24 * time.Hour)) }

// PriceLabel renders the monthly price, e.g. "Rp 50.000/bulan".
func (p Plan) PriceLabel() string { return p.Price.Display() + "/bulan" }

// Report is the status summary shown to a user.
type Report struct {
	IsPro     bool       `json:"is_pro"`
	Plan      string     `json:"plan"` // "pro" or "free"
	StartsAt  *time.Time `json:"starts_at,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	DaysLeft  int        `json:"days_left"`
	AutoRenew bool       `json:"auto_renew"`
	Features  []string   `json:"features,omitempty"`
	Price     string     `json:"price,omitempty"`
	Message   string     `json:"message"`
}

// PlanFree labels a report for a user without an active subscription.
const PlanFree = "free"

// ListOpts filters subscription listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
