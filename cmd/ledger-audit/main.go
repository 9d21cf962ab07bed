package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ms-contest/internal/config"
	"ms-contest/internal/database"
	"ms-contest/internal/logger"

	"github.com/joho/godotenv"
)

// ledger-audit recounts vote rows against the maintained tallies and exits 1 on any drift.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.Database.AutoMigrate = false

	log := logger.NewLogger("")
	defer log.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := database.OpenLedgerStore(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer store.Close()

	report, err := store.Audit(ctx)
	if err != nil {
		log.Fatal("AUDIT", err.Error())
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	if !report.Healthy() {
		log.Error("AUDIT", fmt.Sprintf("❌ Ledger drift: %d tally mismatches, %d votes without exposure, %d dangling rows",
			len(report.Mismatches), report.VotesWithoutExposure, report.DanglingRows))
		store.Close()
		os.Exit(1)
	}
	log.Info("AUDIT", "✅ Ledger is consistent")
}
