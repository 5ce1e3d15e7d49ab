// Command seed loads lender policy from a YAML file into the database. Lenders
// whose id already exists are left alone, so the command can be re-run.
package main

import (
	"context"
	"database/sql"
	"flag"

	_ "github.com/lib/pq"

	"github.com/liamcoop/lendermatch/internal/config"
	"github.com/liamcoop/lendermatch/internal/logger"
	"github.com/liamcoop/lendermatch/policy"
	"github.com/liamcoop/lendermatch/store"
)

func main() {
	var databaseURL string
	var file string

	flag.StringVar(&databaseURL, "database", "", "Database URL (defaults to DATABASE_URL)")
	flag.StringVar(&file, "file", "seed/lenders.yaml", "Seed file with lender policy")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	if databaseURL == "" {
		databaseURL = cfg.Database.URL
	}
	if databaseURL == "" {
		logger.Fatal("database URL is required, use -database or DATABASE_URL")
	}

	lenders, err := policy.LoadSeedFile(file)
	if err != nil {
		logger.Fatal("failed to load seed file", "file", file, "error", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal("failed to ping database", "error", err)
	}

	manager := policy.NewManager(
		store.NewPostgresPolicyStore(db),
		store.NewPostgresApplicationStore(db),
		store.NewPostgresResultStore(db),
		nil,
		nil,
		logger.Logger,
	)
	res, err := manager.Seed(lenders)
	if err != nil {
		logger.Fatal("seeding failed", "file", file, "created", res.Created, "error", err)
	}
	logger.Info("seed complete", "file", file, "created", res.Created, "skipped", res.Skipped)

	if err := logger.Shutdown(context.Background()); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}
}
