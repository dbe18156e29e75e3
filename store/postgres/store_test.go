package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove/drivers/pgdriver"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/store/storetest"
)

// Set ESCROW_TEST_POSTGRES_DSN to a disposable database to run the suite.
// Every subtest truncates the escrow tables.
func TestStore(t *testing.T) {
	dsn := os.Getenv("ESCROW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ESCROW_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if _, err := s.pg.NewRaw(`TRUNCATE escrow_subscriptions, escrow_cases,
			escrow_wallet_transactions, escrow_wallets, escrow_users RESTART IDENTITY`).Exec(ctx); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "escrow_cases_case_number_key"}, escrow.ErrAlreadyExists},
		{"serialization", &pgconn.PgError{Code: "40001"}, escrow.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, escrow.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("mapError: got %v, want %v", got, tt.want)
			}
		})
	}

	if mapError(nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
	other := &pgconn.PgError{Code: "42P01"}
	if got := mapError(other); !errors.Is(got, other) || errors.Is(got, escrow.ErrAlreadyExists) {
		t.Errorf("unmapped code: got %v", got)
	}
}

func TestLockQueries(t *testing.T) {
	pg := pgdriver.New()
	caseID := id.NewCaseID()

	tests := []struct {
		name  string
		query *pgdriver.SelectQuery
		want  []string
		args  int
	}{
		{
			name:  "wallet",
			query: lockWalletQuery(pg, new(walletModel), id.NewWalletID()),
			want:  []string{`FROM "escrow_wallets"`, "WHERE id = $1", "FOR UPDATE"},
			args:  1,
		},
		{
			name:  "pending hold",
			query: lockPendingHoldQuery(pg, new(transactionModel), caseID),
			want:  []string{`FROM "escrow_wallet_transactions"`, "reference_id = $4", "ORDER BY seq LIMIT 1 FOR UPDATE"},
			args:  4,
		},
		{
			name:  "page",
			query: page(pg.NewSelect(new(transactionModel)).Where("wallet_id = $1", "wlt").OrderExpr("seq DESC"), 5, 10),
			want:  []string{"ORDER BY seq DESC LIMIT 10 OFFSET 5"},
			args:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.query.Build()
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(sql, want) {
					t.Errorf("sql %q missing %q", sql, want)
				}
			}
			if len(args) != tt.args {
				t.Errorf("args: got %d, want %d", len(args), tt.args)
			}
		})
	}

	sql, _, err := lockPendingHoldQuery(pg, new(transactionModel), caseID).Build()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(sql, `"seq"`) {
		t.Errorf("seq is not a model column: %q", sql)
	}
}
