// Package assistant is the gate in front of the legal chat assistant. Pro
// members get the detailed answer without limits; signed-in free users and
// guests get the short answer and spend one unit of their daily quota per
// question.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/meter"
	"github.com/xraph/escrow/plugin"
)

// MaxMessageLength is the longest question accepted, in characters.
const MaxMessageLength = 2000

// ctaThreshold is the used count from which free replies carry the upgrade
// call to action.
const ctaThreshold = 2

const escalationMessage = "Sebagai member Pro, Anda dapat terhubung langsung dengan Paralegal/Advokat."

// Tier is the service level a reply was produced at.
type Tier string

const (
	TierPro   Tier = "pro"
	TierFree  Tier = "free"
	TierGuest Tier = "guest"
)

// ProChecker reports Pro entitlement. *escrow.Engine satisfies it.
type ProChecker interface {
	IsPro(ctx context.Context, userID id.UserID) (bool, error)
}

// Request is one question. A nil UserID means a guest; guests are counted
// by SessionID, and an empty SessionID gets a fresh one.
type Request struct {
	Message   string
	UserID    id.UserID
	SessionID string
}

// Answer is the generated text and its metadata.
type Answer struct {
	Text         string  `json:"answer"`
	Topic        string  `json:"topic"`
	Confidence   float64 `json:"confidence"`
	SystemPrompt string  `json:"system_prompt"`
	Disclaimer   string  `json:"disclaimer"`
}

// Escalation offers Pro members a human expert.
type Escalation struct {
	CanEscalate bool   `json:"can_escalate"`
	Message     string `json:"message"`
}

// Reply is the outcome of an accepted question.
type Reply struct {
	Tier   Tier
	Answer Answer

	// SessionID is the guest session the question was counted against.
	SessionID string

	// Usage is nil for Pro replies, which are not metered.
	Usage      *meter.Usage
	UpgradeCTA string
	Escalation *Escalation
}

// Unlimited reports whether the reply was exempt from the quota.
func (r *Reply) Unlimited() bool { return r.Usage == nil }

// Assistant answers questions under the freemium rules.
type Assistant struct {
	meter     *meter.Meter
	pro       ProChecker
	templates *Templates
	plugins   *plugin.Registry
	logger    *slog.Logger
	intn      func(n int) int
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithTemplates replaces the built-in answer table.
func WithTemplates(t *Templates) Option {
	return func(a *Assistant) {
		if t != nil {
			a.templates = t
		}
	}
}

// WithPlugins routes quota events to a plugin registry.
func WithPlugins(r *plugin.Registry) Option {
	return func(a *Assistant) { a.plugins = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assistant) { a.logger = logger }
}

// WithRand sets the source for confidence scores. intn must behave like
// rand.IntN.
func WithRand(intn func(n int) int) Option {
	return func(a *Assistant) { a.intn = intn }
}

// New creates an Assistant.
func New(m *meter.Meter, pro ProChecker, opts ...Option) *Assistant {
	a := &Assistant{
		meter:     m,
		pro:       pro,
		templates: DefaultTemplates(),
		logger:    slog.Default(),
		intn:      rand.IntN,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Templates returns the answer table in use.
func (a *Assistant) Templates() *Templates { return a.templates }

// Ask answers one question. Free and guest questions past the daily quota
// fail with a *meter.QuotaError, which matches escrow.ErrQuotaExceeded.
func (a *Assistant) Ask(ctx context.Context, req Request) (*Reply, error) {
	if err := ValidateMessage(req.Message); err != nil {
		return nil, err
	}

	if !req.UserID.IsNil() {
		pro, err := a.pro.IsPro(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("assistant: entitlement: %w", err)
		}
		if pro {
			return &Reply{
				Tier:       TierPro,
				Answer:     a.answer(req.Message, true),
				Escalation: &Escalation{CanEscalate: true, Message: escalationMessage},
			}, nil
		}
	}

	who, tier := a.identify(&req)
	usage, err := a.meter.Consume(ctx, who)
	if err != nil {
		var qe *meter.QuotaError
		if errors.As(err, &qe) {
			a.logger.Warn("chat quota exceeded",
				"identity", who.Key(),
				"tier", tier,
				"limit", qe.Usage.Limit,
			)
			if a.plugins != nil {
				a.plugins.EmitQuotaExceeded(ctx, who.Key(), qe.Usage.Used, qe.Usage.Limit)
			}
		}
		return nil, err
	}

	reply := &Reply{
		Tier:      tier,
		Answer:    a.answer(req.Message, false),
		SessionID: req.SessionID,
		Usage:     &usage,
	}
	if usage.Used >= ctaThreshold {
		reply.UpgradeCTA = fmt.Sprintf("Sisa %d pertanyaan gratis. Upgrade ke Pro untuk akses unlimited!", usage.Remaining)
	}
	return reply, nil
}

// Usage returns the caller's quota state without spending it. Pro callers
// get a nil usage.
func (a *Assistant) Usage(ctx context.Context, userID id.UserID, sessionID string) (*meter.Usage, error) {
	if !userID.IsNil() {
		pro, err := a.pro.IsPro(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("assistant: entitlement: %w", err)
		}
		if pro {
			return nil, nil
		}
	}
	req := Request{UserID: userID, SessionID: sessionID}
	who, _ := a.identify(&req)
	u, err := a.meter.Peek(ctx, who)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// identify picks the meter identity, minting a guest session if needed.
func (a *Assistant) identify(req *Request) (meter.Identity, Tier) {
	if !req.UserID.IsNil() {
		return meter.ForUser(req.UserID), TierFree
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	return meter.ForSession(req.SessionID), TierGuest
}

func (a *Assistant) answer(message string, pro bool) Answer {
	t := a.templates
	topic := t.Detect(message)
	return Answer{
		Text:         t.Answer(topic, pro),
		Topic:        topic,
		Confidence:   a.confidence(t.Confidence.For(pro)),
		SystemPrompt: t.Prompts.For(pro),
		Disclaimer:   t.Disclaimers.For(pro),
	}
}

func (a *Assistant) confidence(r Range) float64 {
	return float64(r.Min+a.intn(r.Max-r.Min+1)) / 100
}

// ValidateMessage rejects empty and oversized questions.
func ValidateMessage(message string) error {
	switch {
	case strings.TrimSpace(message) == "":
		return &escrow.Error{Kind: escrow.ErrInvalidMessage, Message: "Pesan wajib diisi."}
	case utf8.RuneCountInString(message) > MaxMessageLength:
		return &escrow.Error{
			Kind:    escrow.ErrInvalidMessage,
			Message: fmt.Sprintf("Pesan tidak boleh lebih dari %d karakter.", MaxMessageLength),
		}
	}
	return nil
}
