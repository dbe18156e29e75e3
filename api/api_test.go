package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/assistant"
	"github.com/xraph/escrow/meter"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/user"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type harness struct {
	t       *testing.T
	engine  *escrow.Engine
	auth    *Authenticator
	handler http.Handler

	client, expert, stranger, admin *user.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := escrow.New(memory.New(),
		escrow.WithClock(clock.Now),
		escrow.WithLocation(time.UTC),
		escrow.WithExpiryInterval(0),
		escrow.WithLogger(logger),
	)
	m := meter.New(meter.NewMemoryCounter(clock.Now), meter.WithClock(clock.Now), meter.WithLocation(time.UTC))
	chat := assistant.New(m, engine, assistant.WithLogger(logger))
	auth := NewAuthenticator([]byte("test-secret"), "escrow-test")
	auth.clock = clock.Now

	h := &harness{
		t:       t,
		engine:  engine,
		auth:    auth,
		handler: New(engine, chat, auth, WithLogger(logger)).Handler(),
	}
	h.client = h.register("Budi", user.RoleClient)
	h.expert = h.register("Sari", user.RoleLawyer)
	h.stranger = h.register("Andi", user.RoleClient)
	h.admin = h.register("RCI", user.RoleAdmin)
	return h
}

// sub rebinds the harness to a subtest.
func (h *harness) sub(t *testing.T) *harness {
	c := *h
	c.t = t
	return &c
}

func (h *harness) register(name string, role user.Role) *user.User {
	h.t.Helper()
	u := &user.User{Name: name, Email: strings.ToLower(name) + "@example.com", Role: role}
	if err := h.engine.RegisterUser(context.Background(), u); err != nil {
		h.t.Fatalf("RegisterUser: %v", err)
	}
	return u
}

func (h *harness) token(u *user.User) string {
	h.t.Helper()
	tok, err := h.auth.Issue(u.ID, string(u.Role), time.Hour)
	if err != nil {
		h.t.Fatalf("Issue: %v", err)
	}
	return tok
}

type response struct {
	code   int
	header http.Header
	env    struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
}

func (r *response) data(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", r.env.Data, err)
	}
}

func (h *harness) do(method, path string, u *user.User, body any, headers ...string) *response {
	h.t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			h.t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(u))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	resp := &response{code: rec.Code, header: rec.Header()}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp.env); err != nil {
		h.t.Fatalf("%s %s: body %q is not an envelope: %v", method, path, rec.Body.String(), err)
	}
	return resp
}

func (h *harness) expect(resp *response, code int) {
	h.t.Helper()
	if resp.code != code {
		h.t.Fatalf("status: got %d, want %d (message %q)", resp.code, code, resp.env.Message)
	}
	if resp.env.Success != (code < 300) {
		h.t.Fatalf("success flag %v for status %d", resp.env.Success, code)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	h.expect(h.do(http.MethodGet, "/health", nil, nil), http.StatusOK)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage", "Bearer not-a-jwt"},
		{"other secret", "Bearer " + mustIssue(t, NewAuthenticator([]byte("other"), "escrow-test"), h.client)},
		{"other issuer", "Bearer " + mustIssue(t, NewAuthenticator([]byte("test-secret"), "someone-else"), h.client)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := h.sub(t)
			var headers []string
			if tt.header != "" {
				headers = []string{"Authorization", tt.header}
			}
			resp := h.do(http.MethodGet, "/wallet", nil, nil, headers...)
			if resp.code != http.StatusUnauthorized {
				t.Errorf("status: got %d, want 401", resp.code)
			}
		})
	}
}

func mustIssue(t *testing.T, a *Authenticator, u *user.User) string {
	t.Helper()
	tok, err := a.Issue(u.ID, string(u.Role), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestTopUp(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodPost, "/rci/topup", h.client, map[string]any{"amount": 100000})
	h.expect(resp, http.StatusOK)
	var tx struct {
		Type   string `json:"type"`
		Amount struct {
			Value string `json:"value"`
		} `json:"amount"`
	}
	resp.data(t, &tx)
	if tx.Type != "deposit" || tx.Amount.Value != "100000.00" {
		t.Errorf("transaction: %+v", tx)
	}

	h.expect(h.do(http.MethodPost, "/rci/topup", h.client, map[string]any{"amount": "2500.50"}), http.StatusOK)

	resp = h.do(http.MethodGet, "/wallet", h.client, nil)
	h.expect(resp, http.StatusOK)
	var summary struct {
		BalanceLabel string `json:"balance_label"`
	}
	resp.data(t, &summary)
	if summary.BalanceLabel != "Rp 102.501" {
		t.Errorf("balance label: got %q", summary.BalanceLabel)
	}

	tests := []struct {
		name string
		body any
		code int
	}{
		{"zero", map[string]any{"amount": 0}, http.StatusUnprocessableEntity},
		{"negative", map[string]any{"amount": -10}, http.StatusUnprocessableEntity},
		{"not a number", map[string]any{"amount": "banyak"}, http.StatusUnprocessableEntity},
		{"past int64 sen", map[string]any{"amount": "184467440737095517.17"}, http.StatusUnprocessableEntity},
		{"bad json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := h.sub(t)
			h.expect(h.do(http.MethodPost, "/rci/topup", h.client, tt.body), tt.code)
		})
	}

	resp = h.do(http.MethodPost, "/rci/topup", h.client, map[string]any{"amount": 0})
	if resp.env.Message != "Jumlah top-up harus lebih dari 0." {
		t.Errorf("message: got %q", resp.env.Message)
	}
}

func TestEscrowFlow(t *testing.T) {
	h := newHarness(t)

	resp := h.do(http.MethodPost, "/cases/", h.client, map[string]any{"title": "Sengketa tanah"})
	h.expect(resp, http.StatusCreated)
	var c struct {
		ID     string `json:"id"`
		Number string `json:"case_number"`
		Status string `json:"status"`
	}
	resp.data(t, &c)
	if !strings.HasPrefix(c.Number, "RCI-20260401-") {
		t.Errorf("case number: got %q", c.Number)
	}

	h.expect(h.do(http.MethodPost, "/rci/topup", h.client, map[string]any{"amount": 1000000}), http.StatusOK)

	lock := map[string]any{"case_id": c.ID, "amount": 500000}
	h.expect(h.do(http.MethodPost, "/rci/escrow/start", h.stranger, lock), http.StatusForbidden)
	h.expect(h.do(http.MethodPost, "/rci/escrow/start", h.client, lock), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/rci/escrow/start", h.client, lock), http.StatusUnprocessableEntity)

	release := map[string]any{"case_id": c.ID}
	// No expert yet.
	h.expect(h.do(http.MethodPost, "/rci/escrow/release", h.client, release), http.StatusUnprocessableEntity)

	h.expect(h.do(http.MethodPost, "/cases/"+c.ID+"/apply", h.client, nil), http.StatusUnprocessableEntity)
	h.expect(h.do(http.MethodPost, "/cases/"+c.ID+"/apply", h.expert, nil), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/cases/"+c.ID+"/apply", h.expert, nil), http.StatusUnprocessableEntity)
	h.expect(h.do(http.MethodGet, "/cases/"+c.ID, h.expert, nil), http.StatusOK)
	h.expect(h.do(http.MethodGet, "/cases/"+c.ID, h.stranger, nil), http.StatusForbidden)
	h.expect(h.do(http.MethodPost, "/cases/"+c.ID+"/status", h.expert, map[string]any{"status": "completed"}), http.StatusOK)

	resp = h.do(http.MethodPost, "/rci/escrow/release", h.client, release)
	h.expect(resp, http.StatusOK)
	var s struct {
		Payout struct {
			Amount struct {
				Value string `json:"value"`
			} `json:"amount"`
		} `json:"payout"`
		Fee struct {
			Amount struct {
				Value string `json:"value"`
			} `json:"amount"`
		} `json:"fee"`
	}
	resp.data(t, &s)
	if s.Payout.Amount.Value != "450000.00" || s.Fee.Amount.Value != "50000.00" {
		t.Errorf("settlement: payout %s fee %s", s.Payout.Amount.Value, s.Fee.Amount.Value)
	}

	h.expect(h.do(http.MethodPost, "/rci/escrow/release", h.client, release), http.StatusNotFound)

	resp = h.do(http.MethodGet, "/wallet/transactions?type=payment_release", h.expert, nil)
	h.expect(resp, http.StatusOK)
	var rows []json.RawMessage
	resp.data(t, &rows)
	if len(rows) != 1 {
		t.Errorf("expert payout rows: got %d, want 1", len(rows))
	}
}

func TestCaseRequests(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{"missing case id", http.MethodPost, "/rci/escrow/start", map[string]any{"amount": 1}, http.StatusBadRequest},
		{"bad case id", http.MethodPost, "/rci/escrow/start", map[string]any{"case_id": "wlt_x", "amount": 1}, http.StatusBadRequest},
		{"unknown case", http.MethodGet, "/cases/case_01h455vb4pex5vsknk084sn02q", nil, http.StatusNotFound},
		{"empty title", http.MethodPost, "/cases/", map[string]any{"title": ""}, http.StatusBadRequest},
		{"bad history type", http.MethodGet, "/wallet/transactions?type=gift", nil, http.StatusBadRequest},
		{"bad history limit", http.MethodGet, "/wallet/transactions?limit=-1", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := h.sub(t)
			h.expect(h.do(tt.method, tt.path, h.client, tt.body), tt.code)
		})
	}
}

func TestMembership(t *testing.T) {
	h := newHarness(t)

	h.expect(h.do(http.MethodPost, "/subscriptions/pro", h.client, nil), http.StatusUnprocessableEntity)
	h.expect(h.do(http.MethodPost, "/rci/topup", h.client, map[string]any{"amount": 10000}), http.StatusOK)
	resp := h.do(http.MethodPost, "/subscriptions/pro", h.client, nil)
	h.expect(resp, http.StatusUnprocessableEntity)
	if !strings.Contains(resp.env.Message, "Saldo tidak mencukupi") {
		t.Errorf("message: got %q", resp.env.Message)
	}

	h.expect(h.do(http.MethodPost, "/rci/topup", h.client, map[string]any{"amount": 190000}), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/rci/upgrade", h.client, nil), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/subscriptions/pro", h.client, nil), http.StatusUnprocessableEntity)
	h.expect(h.do(http.MethodPost, "/subscriptions/pro/renew", h.client, nil), http.StatusOK)

	resp = h.do(http.MethodGet, "/subscriptions/status", h.client, nil)
	h.expect(resp, http.StatusOK)
	var report struct {
		IsPro    bool `json:"is_pro"`
		DaysLeft int  `json:"days_left"`
	}
	resp.data(t, &report)
	if !report.IsPro || report.DaysLeft != 60 {
		t.Errorf("report: %+v", report)
	}

	h.expect(h.do(http.MethodPost, "/membership/upgrade", h.client, nil), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/membership/upgrade", h.client, nil), http.StatusUnprocessableEntity)
}

type chatData struct {
	Tier     string `json:"tier"`
	Response struct {
		Topic      string  `json:"topic"`
		Confidence float64 `json:"confidence"`
	} `json:"response"`
	Usage struct {
		Limit     *int64 `json:"limit"`
		Used      *int64 `json:"used"`
		Remaining any    `json:"remaining"`
	} `json:"usage"`
	UpgradeCTA *string `json:"upgrade_cta"`
	Escalation *struct {
		CanEscalate bool `json:"can_escalate"`
	} `json:"escalation"`
	SessionID string `json:"session_id"`
}

func TestChatGuest(t *testing.T) {
	h := newHarness(t)
	msg := map[string]any{"message": "Saya ditipu, apakah ini penipuan?"}

	resp := h.do(http.MethodPost, "/chat/send", nil, msg)
	h.expect(resp, http.StatusOK)
	var first chatData
	resp.data(t, &first)
	session := resp.header.Get(SessionHeader)
	if session == "" || session != first.SessionID {
		t.Fatalf("session: header %q body %q", session, first.SessionID)
	}
	if first.Tier != "guest" || first.Response.Topic != "pidana" || first.UpgradeCTA != nil {
		t.Errorf("first reply: %+v", first)
	}

	for want := int64(2); want <= 3; want++ {
		resp = h.do(http.MethodPost, "/chat/send", nil, msg, SessionHeader, session)
		h.expect(resp, http.StatusOK)
		var d chatData
		resp.data(t, &d)
		if d.Usage.Used == nil || *d.Usage.Used != want {
			t.Fatalf("used: got %v, want %d", d.Usage.Used, want)
		}
		wantCTA := fmt.Sprintf("Sisa %d pertanyaan gratis. Upgrade ke Pro untuk akses unlimited!", 3-want)
		if d.UpgradeCTA == nil || *d.UpgradeCTA != wantCTA {
			t.Errorf("cta: got %v, want %q", d.UpgradeCTA, wantCTA)
		}
	}

	resp = h.do(http.MethodPost, "/chat/send", nil, msg, SessionHeader, session)
	h.expect(resp, http.StatusTooManyRequests)
	if !strings.HasPrefix(resp.env.Message, "Anda telah mencapai batas 3 pertanyaan gratis hari ini.") {
		t.Errorf("quota message: %q", resp.env.Message)
	}
	var q struct {
		Tier  string `json:"tier"`
		Usage struct {
			Remaining float64 `json:"remaining"`
		} `json:"usage"`
		UpgradeURL string `json:"upgrade_url"`
	}
	resp.data(t, &q)
	if q.Tier != "guest" || q.Usage.Remaining != 0 || q.UpgradeURL != upgradeURL {
		t.Errorf("quota data: %+v", q)
	}

	// A different guest session is unaffected.
	h.expect(h.do(http.MethodPost, "/chat/send", nil, msg, SessionHeader, "fresh-session"), http.StatusOK)
}

func TestChatTiers(t *testing.T) {
	h := newHarness(t)
	msg := map[string]any{"message": "Bagaimana hak pesangon PHK?"}

	resp := h.do(http.MethodPost, "/chat/send", h.client, msg)
	h.expect(resp, http.StatusOK)
	var free chatData
	resp.data(t, &free)
	if free.Tier != "free" || free.Escalation != nil || free.SessionID != "" {
		t.Errorf("free reply: %+v", free)
	}

	h.expect(h.do(http.MethodPost, "/rci/topup", h.client, map[string]any{"amount": 50000}), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/subscriptions/pro", h.client, nil), http.StatusOK)

	for range 5 {
		resp = h.do(http.MethodPost, "/rci/chat", h.client, msg)
		h.expect(resp, http.StatusOK)
	}
	var pro chatData
	resp.data(t, &pro)
	if pro.Tier != "pro" || pro.Usage.Limit != nil || pro.Usage.Remaining != "unlimited" {
		t.Errorf("pro usage: %+v", pro.Usage)
	}
	if pro.Escalation == nil || !pro.Escalation.CanEscalate {
		t.Error("pro reply should offer escalation")
	}
	if pro.Response.Confidence < 0.85 || pro.Response.Confidence > 0.98 {
		t.Errorf("pro confidence: got %v", pro.Response.Confidence)
	}

	h.expect(h.do(http.MethodPost, "/chat/send", nil, map[string]any{"message": ""}), http.StatusUnprocessableEntity)
	h.expect(h.do(http.MethodPost, "/rci/chat", nil, msg), http.StatusUnauthorized)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"domain", escrow.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"not found", escrow.ErrCaseNotFound, http.StatusNotFound},
		{"quota", &meter.QuotaError{}, http.StatusTooManyRequests},
		{"conflict", escrow.ErrConflict, http.StatusConflict},
		{"case changed", escrow.ErrCaseChanged, http.StatusConflict},
		{"unauthenticated", ErrUnauthenticated, http.StatusUnauthorized},
		{"forbidden", errForbidden, http.StatusForbidden},
		{"bad request", badRequest("x"), http.StatusBadRequest},
		{"unexpected", fmt.Errorf("%w: boom", escrow.ErrUnexpected), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
