// Command returnsctl administers the returns database from a terminal:
// schema migration, demo seeding, listing and settling returns, and refund
// previews before a customer is sent to the counter.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"apotekita/backend/internal/cache"
	"apotekita/backend/internal/config"
	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/evidence"
	"apotekita/backend/internal/logger"
	"apotekita/backend/internal/lookup"
	"apotekita/backend/internal/service"
	"apotekita/backend/internal/store"
	pgstore "apotekita/backend/internal/store/postgres"
	sqlitestore "apotekita/backend/internal/store/sqlite"
)

var version = "0.3.0"

func main() {
	cfg := config.Load()
	if err := logger.Setup(logger.LogConfig{Level: cfg.LogLevel, Format: "console", Output: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		log := logger.WithComponent("returnsctl")
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// cliOperator is the actor recorded in the audit log for CLI actions.
var cliOperator = domain.Actor{Username: "returnsctl", Role: domain.RoleAdmin}

type options struct {
	cfg         config.Config
	databaseURL string
	sqlitePath  string
}

func newRootCmd(cfg config.Config) *cobra.Command {
	opts := &options{cfg: cfg}
	root := &cobra.Command{
		Use:   "returnsctl",
		Short: "Administer pharmacy returns and refunds",
		Long: `returnsctl works directly against the returns database.

The database is chosen the same way the server chooses it: --database-url
(or DATABASE_URL) selects PostgreSQL, --sqlite (or SQLITE_PATH) selects a
SQLite file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection URL")
	root.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite", cfg.SQLitePath, "SQLite database file")

	root.AddCommand(
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newStatusCmd(opts),
		newClearCmd(opts),
		newPreviewCmd(opts),
	)
	return root
}

// database is a repository that can also migrate and seed itself.
type database interface {
	store.Repository
	store.InvoiceWriter
	Migrate(ctx context.Context) error
	Close() error
}

func (o *options) openDatabase(ctx context.Context) (database, error) {
	switch {
	case o.databaseURL != "":
		pg, err := pgstore.New(ctx, o.databaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return pg, nil
	case o.sqlitePath != "":
		db, err := sqlitestore.Open(ctx, o.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("no database configured: pass --database-url or --sqlite")
	}
}

// withService opens the database and runs fn with a service acting as
// cliOperator. The schema is migrated first so a fresh file works.
func (o *options) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service, db database) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	db, err := o.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	evidenceStore, err := evidence.NewLocalStore(o.cfg.EvidenceDir, o.cfg.EvidenceMaxBytes)
	if err != nil {
		return err
	}
	engine := lookup.NewEngine(cache.NoopInvoiceSearchCache{}, 0)
	svc := service.New(db, engine, evidenceStore, service.Options{
		DefaultPageSize: o.cfg.ReturnsDefaultPageSize,
		MaxPageSize:     o.cfg.ReturnsMaxPageSize,
	})
	return fn(service.WithActor(ctx, cliOperator), svc, db)
}
