package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// Every document carries a lock counter. Incrementing it inside a
// transaction is how a unit of work takes a row lock: a second transaction
// writing the same document fails with a write conflict.

// ==================== User models ====================

type userModel struct {
	grove.BaseModel `grove:"table:escrow_users"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	Name      string    `grove:"name"       bson:"name"`
	Email     string    `grove:"email"      bson:"email"`
	Role      string    `grove:"role"       bson:"role"`
	Lock      int64     `grove:"lock"       bson:"lock"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
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
		Entity: entity(m.CreatedAt, m.UpdatedAt),
		ID:     userID,
		Name:   m.Name,
		Email:  m.Email,
		Role:   user.Role(m.Role),
	}, nil
}

// ==================== Wallet models ====================

type walletModel struct {
	grove.BaseModel `grove:"table:escrow_wallets"`

	ID        string    `grove:"id,pk"      bson:"_id"`
	UserID    string    `grove:"user_id"    bson:"user_id"`
	Balance   int64     `grove:"balance"    bson:"balance"`
	Currency  string    `grove:"currency"   bson:"currency"`
	Lock      int64     `grove:"lock"       bson:"lock"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
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
		Entity:  entity(m.CreatedAt, m.UpdatedAt),
		ID:      walletID,
		UserID:  userID,
		Balance: types.Money{Amount: m.Balance, Currency: m.Currency},
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:escrow_wallet_transactions"`

	ID            string    `grove:"id,pk"          bson:"_id"`
	Seq           int64     `grove:"seq"            bson:"seq"`
	WalletID      string    `grove:"wallet_id"      bson:"wallet_id"`
	Amount        int64     `grove:"amount"         bson:"amount"`
	Currency      string    `grove:"currency"       bson:"currency"`
	Type          string    `grove:"type"           bson:"type"`
	ReferenceKind string    `grove:"reference_kind" bson:"reference_kind"`
	ReferenceID   string    `grove:"reference_id"   bson:"reference_id"`
	Status        string    `grove:"status"         bson:"status"`
	Description   string    `grove:"description"    bson:"description"`
	Lock          int64     `grove:"lock"           bson:"lock"`
	CreatedAt     time.Time `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"     bson:"updated_at"`
}

func toTransactionModel(t *wallet.Transaction, seq int64) *transactionModel {
	return &transactionModel{
		ID:            t.ID.String(),
		Seq:           seq,
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
		return nil, err
	}
	return &wallet.Transaction{
		Entity:      entity(m.CreatedAt, m.UpdatedAt),
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

	ID        string    `grove:"id,pk"       bson:"_id"`
	Number    string    `grove:"case_number" bson:"case_number"`
	Title     string    `grove:"title"       bson:"title"`
	ClientID  string    `grove:"client_id"   bson:"client_id"`
	ExpertID  string    `grove:"expert_id"   bson:"expert_id"`
	Status    string    `grove:"status"      bson:"status"`
	Lock      int64     `grove:"lock"        bson:"lock"`
	CreatedAt time.Time `grove:"created_at"  bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"  bson:"updated_at"`
}

func toCaseModel(c *legalcase.Case) *caseModel {
	return &caseModel{
		ID:        c.ID.String(),
		Number:    c.Number,
		Title:     c.Title,
		ClientID:  c.ClientID.String(),
		ExpertID:  c.ExpertID.String(),
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
	clientID, err := parseOptionalID(m.ClientID)
	if err != nil {
		return nil, err
	}
	expertID, err := parseOptionalID(m.ExpertID)
	if err != nil {
		return nil, err
	}
	return &legalcase.Case{
		Entity:   entity(m.CreatedAt, m.UpdatedAt),
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

	ID          string     `grove:"id,pk"        bson:"_id"`
	Seq         int64      `grove:"seq"          bson:"seq"`
	UserID      string     `grove:"user_id"      bson:"user_id"`
	PlanName    string     `grove:"plan_name"    bson:"plan_name"`
	Price       int64      `grove:"price"        bson:"price"`
	Currency    string     `grove:"currency"     bson:"currency"`
	Status      string     `grove:"status"       bson:"status"`
	StartsAt    time.Time  `grove:"starts_at"    bson:"starts_at"`
	EndsAt      time.Time  `grove:"ends_at"      bson:"ends_at"`
	CancelledAt *time.Time `grove:"cancelled_at" bson:"cancelled_at,omitempty"`
	Lock        int64      `grove:"lock"         bson:"lock"`
	CreatedAt   time.Time  `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"   bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription, seq int64) *subscriptionModel {
	return &subscriptionModel{
		ID:          s.ID.String(),
		Seq:         seq,
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
		Entity:      entity(m.CreatedAt, m.UpdatedAt),
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

func entity(created, updated time.Time) types.Entity {
	return types.Entity{CreatedAt: created.UTC(), UpdatedAt: updated.UTC()}
}

func parseOptionalID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.Parse(s)
}
