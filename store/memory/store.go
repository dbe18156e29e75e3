// Package memory is an in-process store for tests and single-node demos.
// Units of work are serialized by one mutex and applied copy-on-write, so a
// failed unit leaves no trace.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)

type state struct {
	users        map[string]*user.User
	wallets      map[string]*wallet.Wallet
	walletByUser map[string]string
	transactions []*wallet.Transaction // append order
	cases        map[string]*legalcase.Case
	subs         []*subscription.Subscription
}

func newState() *state {
	return &state{
		users:        make(map[string]*user.User),
		wallets:      make(map[string]*wallet.Wallet),
		walletByUser: make(map[string]string),
		cases:        make(map[string]*legalcase.Case),
	}
}

// clone copies every record so the unit can mutate freely.
func (st *state) clone() *state {
	c := &state{
		users:        cloneMap(st.users),
		wallets:      cloneMap(st.wallets),
		walletByUser: maps.Clone(st.walletByUser),
		transactions: cloneSlice(st.transactions),
		cases:        cloneMap(st.cases),
		subs:         cloneSlice(st.subs),
	}
	return c
}

func cloneMap[T any](m map[string]*T) map[string]*T {
	out := make(map[string]*T, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}

func cloneSlice[T any](s []*T) []*T {
	out := make([]*T, len(s))
	for i, v := range s {
		cp := *v
		out[i] = &cp
	}
	return out
}

func ptr[T any](v *T) *T {
	cp := *v
	return &cp
}

// Store is the in-memory implementation of store.Store.
type Store struct {
	mu     sync.RWMutex
	st     *state
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// Atomic runs fn against a private copy of the data and publishes the copy
// only if fn succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return escrow.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work := &tx{st: s.st.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.st = work.st
	return nil
}

func (s *Store) read() (*state, func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, nil, escrow.ErrStoreClosed
	}
	return s.st, s.mu.RUnlock, nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

func (s *Store) CreateUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return escrow.ErrStoreClosed
	}
	if _, exists := s.st.users[u.ID.String()]; exists {
		return escrow.ErrAlreadyExists
	}
	s.st.users[u.ID.String()] = ptr(u)
	return nil
}

func (s *Store) GetUser(_ context.Context, userID id.UserID) (*user.User, error) {
	st, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()

	if u, ok := st.users[userID.String()]; ok {
		return ptr(u), nil
	}
	return nil, escrow.ErrUserNotFound
}

func (s *Store) GetWalletByUser(_ context.Context, userID id.UserID) (*wallet.Wallet, error) {
	st, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()

	if wid, ok := st.walletByUser[userID.String()]; ok {
		return ptr(st.wallets[wid]), nil
	}
	return nil, escrow.ErrWalletNotFound
}

func (s *Store) ListTransactions(_ context.Context, walletID id.WalletID, opts wallet.ListOpts) ([]*wallet.Transaction, error) {
	st, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()

	result := make([]*wallet.Transaction, 0)
	for i := len(st.transactions) - 1; i >= 0; i-- {
		t := st.transactions[i]
		if !t.WalletID.Equal(walletID) {
			continue
		}
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		result = append(result, ptr(t))
	}
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) GetCase(_ context.Context, caseID id.CaseID) (*legalcase.Case, error) {
	st, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()

	if c, ok := st.cases[caseID.String()]; ok {
		return ptr(c), nil
	}
	return nil, escrow.ErrCaseNotFound
}

func (s *Store) GetActiveSubscription(_ context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	st, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()

	return latestActive(st, userID, plan, now)
}

func (s *Store) ListSubscriptions(_ context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	st, done, err := s.read()
	if err != nil {
		return nil, err
	}
	defer done()

	result := make([]*subscription.Subscription, 0)
	for i := len(st.subs) - 1; i >= 0; i-- {
		sub := st.subs[i]
		if sub.UserID.Equal(userID) && (opts.Status == "" || sub.Status == opts.Status) {
			result = append(result, ptr(sub))
		}
	}
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ExpireSubscriptions(_ context.Context, now time.Time) ([]*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, escrow.ErrStoreClosed
	}

	var expired []*subscription.Subscription
	for _, sub := range s.st.subs {
		if sub.Status == subscription.StatusActive && !sub.EndsAt.After(now) {
			sub.Status = subscription.StatusExpired
			sub.Touch(now)
			expired = append(expired, ptr(sub))
		}
	}
	return expired, nil
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return escrow.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Unit of work
// ──────────────────────────────────────────────────

// tx works on a private copy of the state. The store mutex is held for the
// whole unit, so every lock is already exclusive.
type tx struct {
	st *state
}

func (t *tx) LockUser(_ context.Context, userID id.UserID) (*user.User, error) {
	if u, ok := t.st.users[userID.String()]; ok {
		return ptr(u), nil
	}
	return nil, escrow.ErrUserNotFound
}

func (t *tx) UpdateUserRole(_ context.Context, userID id.UserID, role user.Role) error {
	u, ok := t.st.users[userID.String()]
	if !ok {
		return escrow.ErrUserNotFound
	}
	u.Role = role
	u.Touch(time.Now())
	return nil
}

func (t *tx) FindPlatformUser(_ context.Context) (*user.User, error) {
	var first *user.User
	for _, u := range t.st.users {
		if u.Role != user.RoleAdmin {
			continue
		}
		if first == nil || u.CreatedAt.Before(first.CreatedAt) ||
			(u.CreatedAt.Equal(first.CreatedAt) && u.ID.Compare(first.ID) < 0) {
			first = u
		}
	}
	if first == nil {
		return nil, escrow.ErrUserNotFound
	}
	return ptr(first), nil
}

func (t *tx) EnsureWallet(_ context.Context, userID id.UserID, currency string) (id.WalletID, error) {
	if wid, ok := t.st.walletByUser[userID.String()]; ok {
		return t.st.wallets[wid].ID, nil
	}
	if _, ok := t.st.users[userID.String()]; !ok {
		return id.WalletID{}, escrow.ErrUserNotFound
	}
	w := wallet.New(userID, currency)
	t.st.wallets[w.ID.String()] = w
	t.st.walletByUser[userID.String()] = w.ID.String()
	return w.ID, nil
}

func (t *tx) FindWalletID(_ context.Context, userID id.UserID) (id.WalletID, error) {
	if wid, ok := t.st.walletByUser[userID.String()]; ok {
		return t.st.wallets[wid].ID, nil
	}
	return id.WalletID{}, escrow.ErrWalletNotFound
}

func (t *tx) LockWallet(_ context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	if w, ok := t.st.wallets[walletID.String()]; ok {
		return ptr(w), nil
	}
	return nil, escrow.ErrWalletNotFound
}

func (t *tx) UpdateBalance(_ context.Context, walletID id.WalletID, balance types.Money) error {
	w, ok := t.st.wallets[walletID.String()]
	if !ok {
		return escrow.ErrWalletNotFound
	}
	w.Balance = balance
	w.Touch(time.Now())
	return nil
}

func (t *tx) InsertTransaction(_ context.Context, wt *wallet.Transaction) error {
	if _, ok := t.st.wallets[wt.WalletID.String()]; !ok {
		return escrow.ErrWalletNotFound
	}
	t.st.transactions = append(t.st.transactions, ptr(wt))
	return nil
}

func (t *tx) LockPendingHold(_ context.Context, caseID id.CaseID) (*wallet.Transaction, error) {
	for _, wt := range t.st.transactions {
		if wt.Type == wallet.TypeEscrowHold &&
			wt.Status == wallet.StatusPending &&
			wt.Reference.Kind == wallet.RefCase &&
			wt.Reference.ID.Equal(caseID) {
			return ptr(wt), nil
		}
	}
	return nil, escrow.ErrEscrowNotFound
}

func (t *tx) UpdateTransactionStatus(_ context.Context, txID id.TransactionID, status wallet.Status) error {
	for _, wt := range t.st.transactions {
		if wt.ID.Equal(txID) {
			wt.Status = status
			wt.Touch(time.Now())
			return nil
		}
	}
	return escrow.ErrTransactionNotFound
}

func (t *tx) InsertCase(_ context.Context, c *legalcase.Case) error {
	if _, exists := t.st.cases[c.ID.String()]; exists {
		return escrow.ErrAlreadyExists
	}
	for _, existing := range t.st.cases {
		if existing.Number == c.Number {
			return escrow.ErrAlreadyExists
		}
	}
	t.st.cases[c.ID.String()] = ptr(c)
	return nil
}

func (t *tx) LockCase(_ context.Context, caseID id.CaseID) (*legalcase.Case, error) {
	if c, ok := t.st.cases[caseID.String()]; ok {
		return ptr(c), nil
	}
	return nil, escrow.ErrCaseNotFound
}

func (t *tx) UpdateCase(_ context.Context, c *legalcase.Case) error {
	if _, ok := t.st.cases[c.ID.String()]; !ok {
		return escrow.ErrCaseNotFound
	}
	t.st.cases[c.ID.String()] = ptr(c)
	return nil
}

func (t *tx) LatestCaseNumber(_ context.Context, prefix string) (string, error) {
	var numbers []string
	for _, c := range t.st.cases {
		if strings.HasPrefix(c.Number, prefix) {
			numbers = append(numbers, c.Number)
		}
	}
	if len(numbers) == 0 {
		return "", nil
	}
	return slices.MaxFunc(numbers, compareCaseNumbers), nil
}

func (t *tx) LatestActiveSubscription(_ context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	return latestActive(t.st, userID, plan, now)
}

func (t *tx) InsertSubscription(_ context.Context, sub *subscription.Subscription) error {
	t.st.subs = append(t.st.subs, ptr(sub))
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func latestActive(st *state, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	var latest *subscription.Subscription
	for _, sub := range st.subs {
		if !sub.UserID.Equal(userID) || sub.PlanName != plan || !sub.ActiveAt(now) {
			continue
		}
		if latest == nil || sub.EndsAt.After(latest.EndsAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, escrow.ErrSubscriptionNotFound
	}
	return ptr(latest), nil
}

// compareCaseNumbers orders numbers of one day by sequence. Sequences past
// 99999 are longer, so length decides first.
func compareCaseNumbers(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}

func page[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
