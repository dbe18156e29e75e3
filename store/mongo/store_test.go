package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/store/storetest"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// Set ESCROW_TEST_MONGO_URI to a replica set to run the suite. Every
// subtest gets its own database, dropped when the test ends.
func TestStore(t *testing.T) {
	uri := os.Getenv("ESCROW_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("ESCROW_TEST_MONGO_URI not set")
	}

	admin, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var dbs []string
	t.Cleanup(func() {
		ctx := context.Background()
		for _, name := range dbs {
			_ = admin.Database(name).Drop(ctx)
		}
		_ = admin.Disconnect(ctx)
	})

	var n atomic.Int64
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		name := fmt.Sprintf("escrow_test_%d_%d", time.Now().Unix(), n.Add(1))
		dbs = append(dbs, name)

		s, err := Open(ctx, uri, name)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		return s
	})
}

func TestNextSeqIncreases(t *testing.T) {
	s := &Store{}
	prev := s.nextSeq()
	for range 1000 {
		next := s.nextSeq()
		if next <= prev {
			t.Fatalf("nextSeq went backwards: %d after %d", next, prev)
		}
		prev = next
	}
}

func TestMapError(t *testing.T) {
	if mapError(nil) != nil {
		t.Error("mapError(nil) should be nil")
	}

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	if got := mapError(dup); !errors.Is(got, escrow.ErrAlreadyExists) {
		t.Errorf("duplicate key: got %v", got)
	}

	conflict := mongo.CommandError{Code: 112, Name: "WriteConflict", Labels: []string{"TransientTransactionError"}}
	if got := mapError(conflict); !errors.Is(got, escrow.ErrConflict) {
		t.Errorf("write conflict: got %v", got)
	}

	other := errors.New("boom")
	if got := mapError(other); !errors.Is(got, other) || escrow.IsRetryable(got) {
		t.Errorf("other: got %v", got)
	}
}

// Inserts are keyed by grove column while reads decode by bson tag, so every
// inserted key has to name a bson field of the same model.
func TestInsertDocsDecode(t *testing.T) {
	mdb := mongodriver.New()
	now := time.Now().UTC()
	u := &user.User{Entity: types.EntityAt(now), ID: id.NewUserID(), Name: "budi", Email: "budi@example.com", Role: user.RoleClient}
	w := wallet.New(u.ID, types.CurrencyIDR)
	c := &legalcase.Case{
		Entity:   types.EntityAt(now),
		ID:       id.NewCaseID(),
		Number:   "LX-20260101-00001",
		Title:    "Sengketa tanah",
		ClientID: u.ID,
		Status:   legalcase.StatusSubmitted,
	}
	wt := &wallet.Transaction{
		Entity:    types.EntityAt(now),
		ID:        id.NewTransactionID(),
		WalletID:  w.ID,
		Amount:    types.Rupiah(500),
		Type:      wallet.TypeEscrowHold,
		Reference: wallet.CaseRef(c.ID),
		Status:    wallet.StatusPending,
	}
	sub := &subscription.Subscription{
		Entity:   types.EntityAt(now),
		ID:       id.NewSubscriptionID(),
		UserID:   u.ID,
		PlanName: subscription.PlanPro,
		Price:    types.Rupiah(50000),
		Status:   subscription.StatusActive,
		StartsAt: now,
		EndsAt:   now.Add(30 * 24 * time.Hour),
	}

	tests := []struct {
		name  string
		model any
		col   string
	}{
		{"user", toUserModel(u), colUsers},
		{"wallet", toWalletModel(w), colWallets},
		{"transaction", toTransactionModel(wt, 1), colTransactions},
		{"case", toCaseModel(c), colCases},
		{"subscription", toSubscriptionModel(sub, 1), colSubscriptions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := mdb.NewInsert(tt.model)
			if got := q.GetCollection(); got != tt.col {
				t.Errorf("collection = %q, want %q", got, tt.col)
			}
			doc, err := q.BuildDoc()
			if err != nil {
				t.Fatalf("BuildDoc: %v", err)
			}
			if _, ok := doc["_id"]; !ok {
				t.Error("insert document has no _id")
			}
			known := bsonKeys(tt.model)
			for key := range doc {
				if !known[key] {
					t.Errorf("inserted key %q is not decoded", key)
				}
			}
		})
	}
}

func bsonKeys(model any) map[string]bool {
	typ := reflect.TypeOf(model).Elem()
	keys := make(map[string]bool, typ.NumField())
	for i := range typ.NumField() {
		tag, ok := typ.Field(i).Tag.Lookup("bson")
		if !ok {
			continue
		}
		keys[strings.Split(tag, ",")[0]] = true
	}
	return keys
}
