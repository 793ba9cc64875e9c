package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	_ "github.com/lib/pq"

	"github.com/saviobatista/sbs-archive/internal/config"
	"github.com/saviobatista/sbs-archive/internal/db/migrations"
)

type mode int

const (
	modeMigrate mode = iota
	modeRollback
	modeStatus
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	// Parse command line flags
	dbURL := flag.String("db", cfg.DBConnStr, "Database connection string")
	rollback := flag.Bool("rollback", false, "Rollback the last migration")
	status := flag.Bool("status", false, "Show which migrations are applied")
	flag.Parse()

	m := modeMigrate
	switch {
	case *rollback && *status:
		log.Printf("-rollback and -status are mutually exclusive")
		os.Exit(2)
	case *rollback:
		m = modeRollback
	case *status:
		m = modeStatus
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	err = run(ctx, db, m, os.Stdout)
	cancel()
	db.Close()
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

// run executes one migrate command against db
func run(ctx context.Context, db *sql.DB, m mode, out io.Writer) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(db)
	list := migrations.All()

	switch m {
	case modeRollback:
		if err := migrator.Rollback(ctx, list); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
	case modeStatus:
		statuses, err := migrator.Status(ctx, list)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		renderStatus(out, statuses)
	default:
		n, err := migrator.Migrate(ctx, list)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		log.Printf("Applied %d migration(s), %d total", n, len(list))
	}
	return nil
}

func renderStatus(out io.Writer, statuses []migrations.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Migration", "Applied", "Applied At"})
	for _, s := range statuses {
		at := "-"
		if s.Applied {
			at = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		t.AppendRow(table.Row{s.Name, s.Applied, at})
	}
	t.Render()
}
