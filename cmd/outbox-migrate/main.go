// Command outbox-migrate applies, rolls back and reports the status of the
// schema backing the postgres adapter.
package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/relaykit/outbox/internal/adapters/postgres/migrations"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var dsn string

	root := &cobra.Command{
		Use:   "outbox-migrate",
		Short: "Manage the outbox subsystem's Postgres schema",
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("OUTBOX_STORAGE_DSN"), "Postgres connection string")

	root.AddCommand(
		upCommand(&dsn),
		downCommand(&dsn),
		statusCommand(&dsn),
	)
	return root
}

func upCommand(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(*dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return migrations.Up(db)
		},
	}
}

func downCommand(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recently applied migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(*dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return migrations.Down(db)
		},
	}
}

func statusCommand(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the applied/pending state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(*dsn)
			if err != nil {
				return err
			}
			defer db.Close()
			return migrations.Status(db)
		},
	}
}

func openDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("outbox-migrate: --dsn (or OUTBOX_STORAGE_DSN) is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("outbox-migrate: opening database: %w", err)
	}
	return db, nil
}
