package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(filepath.Join(t.TempDir(), "escrow.db"))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		return s
	})
}

func TestMigrateTwice(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "escrow.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for i := range 2 {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping after migrate: %v", err)
	}
}

func TestWritePage(t *testing.T) {
	tests := []struct {
		name          string
		offset, limit int
		want          string
		args          []any
	}{
		{"none", 0, 0, "", []any{"wlt"}},
		{"limit", 0, 10, " LIMIT ? OFFSET ?", []any{"wlt", 10, 0}},
		{"offset only", 5, 0, " LIMIT ? OFFSET ?", []any{"wlt", -1, 5}},
		{"both", 5, 10, " LIMIT ? OFFSET ?", []any{"wlt", 10, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b strings.Builder
			args := writePage(&b, []any{"wlt"}, tt.offset, tt.limit)
			if got := b.String(); got != tt.want {
				t.Errorf("sql: got %q, want %q", got, tt.want)
			}
			if len(args) != len(tt.args) {
				t.Fatalf("args: got %v, want %v", args, tt.args)
			}
			for i := range args {
				if args[i] != tt.args[i] {
					t.Errorf("arg %d: got %v, want %v", i, args[i], tt.args[i])
				}
			}
		})
	}
}
