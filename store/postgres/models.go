package postgres

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// ==================== User models ====================

type userModel struct {
	grove.BaseModel `grove:"table:escrow_users"`

	ID        string    `grove:"id,pk"`
	Name      string    `grove:"name"`
	Email     string    `grove:"email"`
	Role      string    `grove:"role"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toUserModel(u *user.User) *userModel {
	return &userModel{
		ID:        u.ID.String(),
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func fromUserModel(m *userModel) (*user.User, error) {
	userID, err := id.ParseUserID(m.ID)
	if err != nil {
		return nil, err
	}
	return &user.User{
		Entity: types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:     userID,
		Name:   m.Name,
		Email:  m.Email,
		Role:   user.Role(m.Role),
	}, nil
}

// ==================== Wallet models ====================

type walletModel struct {
	grove.BaseModel `grove:"table:escrow_wallets"`

	ID        string    `grove:"id,pk"`
	UserID    string    `grove:"user_id"`
	Balance   int64     `grove:"balance"`
	Currency  string    `grove:"currency"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toWalletModel(w *wallet.Wallet) *walletModel {
	return &walletModel{
		ID:        w.ID.String(),
		UserID:    w.UserID.String(),
		Balance:   w.Balance.Amount,
		Currency:  w.Balance.Currency,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

func fromWalletModel(m *walletModel) (*wallet.Wallet, error) {
	walletID, err := id.ParseWalletID(m.ID)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(m.UserID)
	if err != nil {
		return nil, err
	}
	return &wallet.Wallet{
		Entity:  types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:      walletID,
		UserID:  userID,
		Balance: types.Money{Amount: m.Balance, Currency: m.Currency},
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:escrow_wallet_transactions"`

	ID            string    `grove:"id,pk"`
	WalletID      string    `grove:"wallet_id"`
	Amount        int64     `grove:"amount"`
	Currency      string    `grove:"currency"`
	Type          string    `grove:"type"`
	ReferenceKind string    `grove:"reference_kind"`
	ReferenceID   string    `grove:"reference_id"`
	Status        string    `grove:"status"`
	Description   string    `grove:"description"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

func toTransactionModel(t *wallet.Transaction) *transactionModel {
	return &transactionModel{
		ID:            t.ID.String(),
		WalletID:      t.WalletID.String(),
		Amount:        t.Amount.Amount,
		Currency:      t.Amount.Currency,
		Type:          string(t.Type),
		ReferenceKind: string(t.Reference.Kind),
		ReferenceID:   t.Reference.ID.String(),
		Status:        string(t.Status),
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*wallet.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	walletID, err := id.ParseWalletID(m.WalletID)
	if err != nil {
		return nil, err
	}
	ref, err := wallet.ParseReference(m.ReferenceKind, m.ReferenceID)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", m.ID, err)
	}
	return &wallet.Transaction{
		Entity:      types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:          txID,
		WalletID:    walletID,
		Amount:      types.Money{Amount: m.Amount, Currency: m.Currency},
		Type:        wallet.Type(m.Type),
		Reference:   ref,
		Status:      wallet.Status(m.Status),
		Description: m.Description,
	}, nil
}

// ==================== Case models ====================

type caseModel struct {
	grove.BaseModel `grove:"table:escrow_cases"`

	ID        string    `grove:"id,pk"`
	Number    string    `grove:"case_number"`
	Title     string    `grove:"title"`
	ClientID  *string   `grove:"client_id"`
	ExpertID  *string   `grove:"expert_id"`
	Status    string    `grove:"status"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toCaseModel(c *legalcase.Case) *caseModel {
	return &caseModel{
		ID:        c.ID.String(),
		Number:    c.Number,
		Title:     c.Title,
		ClientID:  nullableID(c.ClientID),
		ExpertID:  nullableID(c.ExpertID),
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromCaseModel(m *caseModel) (*legalcase.Case, error) {
	caseID, err := id.ParseCaseID(m.ID)
	if err != nil {
		return nil, err
	}
	clientID, err := parseNullableID(m.ClientID)
	if err != nil {
		return nil, err
	}
	expertID, err := parseNullableID(m.ExpertID)
	if err != nil {
		return nil, err
	}
	return &legalcase.Case{
		Entity:   types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:       caseID,
		Number:   m.Number,
		Title:    m.Title,
		ClientID: clientID,
		ExpertID: expertID,
		Status:   legalcase.Status(m.Status),
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:escrow_subscriptions"`

	ID          string     `grove:"id,pk"`
	UserID      string     `grove:"user_id"`
	PlanName    string     `grove:"plan_name"`
	Price       int64      `grove:"price"`
	Currency    string     `grove:"currency"`
	Status      string     `grove:"status"`
	StartsAt    time.Time  `grove:"starts_at"`
	EndsAt      time.Time  `grove:"ends_at"`
	CancelledAt *time.Time `grove:"cancelled_at"`
	CreatedAt   time.Time  `grove:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:          s.ID.String(),
		UserID:      s.UserID.String(),
		PlanName:    s.PlanName,
		Price:       s.Price.Amount,
		Currency:    s.Price.Currency,
		Status:      string(s.Status),
		StartsAt:    s.StartsAt,
		EndsAt:      s.EndsAt,
		CancelledAt: s.CancelledAt,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(m.UserID)
	if err != nil {
		return nil, err
	}
	var cancelledAt *time.Time
	if m.CancelledAt != nil {
		t := m.CancelledAt.UTC()
		cancelledAt = &t
	}
	return &subscription.Subscription{
		Entity:      types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:          subID,
		UserID:      userID,
		PlanName:    m.PlanName,
		Price:       types.Money{Amount: m.Price, Currency: m.Currency},
		Status:      subscription.Status(m.Status),
		StartsAt:    m.StartsAt.UTC(),
		EndsAt:      m.EndsAt.UTC(),
		CancelledAt: cancelledAt,
	}, nil
}

func nullableID(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}

func parseNullableID(s *string) (id.ID, error) {
	if s == nil || *s == "" {
		return id.Nil, nil
	}
	return id.Parse(*s)
}
