package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	appconfig "github.com/odontosorriso/scheduling-agent/internal/config"
	appmigrations "github.com/odontosorriso/scheduling-agent/migrations"
)

// migrator is the part of *migrate.Migrate the commands drive.
type migrator interface {
	Up() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
	Close() (error, error)
}

// openMigrator is swapped in tests.
var openMigrator = func(databaseURL string) (migrator, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db driver: %w", err)
	}
	src, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the scheduling agent database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Bare "migrate" keeps applying everything pending.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, runUp)
		},
	}
	root.PersistentFlags().String("database-url", "", "Postgres URL (defaults to DATABASE_URL)")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, runUp)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (one by default)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("invalid steps %q: must be a positive integer", args[0])
					}
					steps = n
				}
				return withMigrator(cmd, func(cmd *cobra.Command, m migrator) error {
					if err := m.Steps(-steps); err != nil {
						return fmt.Errorf("migrate down: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return withMigrator(cmd, func(cmd *cobra.Command, m migrator) error {
					if err := m.Force(version); err != nil {
						return fmt.Errorf("force version: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "forced version to %d\n", version)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(cmd *cobra.Command, m migrator) error {
					version, dirty, err := m.Version()
					if errors.Is(err, migrate.ErrNilVersion) {
						fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
						return nil
					}
					if err != nil {
						return fmt.Errorf("read version: %w", err)
					}
					suffix := ""
					if dirty {
						suffix = " (dirty)"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d%s\n", version, suffix)
					return nil
				})
			},
		},
	)
	return root
}

func runUp(cmd *cobra.Command, m migrator) error {
	err := m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Fprintln(cmd.OutOrStdout(), "schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations complete")
	return nil
}

func withMigrator(cmd *cobra.Command, fn func(*cobra.Command, migrator) error) error {
	url, _ := cmd.Flags().GetString("database-url")
	if strings.TrimSpace(url) == "" {
		url = appconfig.Load().DatabaseURL
	}
	if strings.TrimSpace(url) == "" {
		return errors.New("DATABASE_URL is required")
	}
	m, err := openMigrator(url)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	return fn(cmd, m)
}
