package postgres

import (
	"context"
	_ "embed"

	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the "pg" migration executor
	"github.com/xraph/grove/migrate"
)

var (
	//go:embed migrations/0001_init.up.sql
	initUp string

	//go:embed migrations/0001_init.down.sql
	initDown string
)

// Migrations is the grove migration group for the escrow store.
var Migrations = migrate.NewGroup("escrow")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_escrow_tables",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, initUp)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, initDown)
				return err
			},
		},
	)
}
