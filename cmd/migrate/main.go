package main

import (
	"context"
	"log"
	"os"
	"time"

	"trialcheck/adapters/postgres"
	"trialcheck/internal/config"
)

// migrate creates the verification run tables. It reads DATABASE_DRIVER and
// DATABASE_URL, or takes the URL as its only argument.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if len(os.Args) > 1 {
		cfg.Database.URL = os.Args[1]
	}
	if cfg.Database.URL == "" {
		log.Fatal("Usage: migrate <database_url> (or set DATABASE_URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Printf("Applying schema to %s database", cfg.Database.Driver)
	db, err := postgres.Connect(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := postgres.NewReportRepository(db).EnsureSchema(ctx); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Schema is up to date")
}
