package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/creatorpay/backend/internal/config"
	"github.com/creatorpay/backend/internal/database"
	"github.com/creatorpay/backend/internal/services"
	"github.com/spf13/viper"
)

// Batch job entrypoint, intended to run from cron. Overlapping or retried
// runs are safe: every write path is gated by an existence check or a
// uniqueness constraint, so no external lock is needed.
func main() {
	job := flag.String("job", "", "job to run: reconcile | generate")
	periodStart := flag.String("period-start", "", "payout period start (YYYY-MM-DD, generate only)")
	periodEnd := flag.String("period-end", "", "payout period end (YYYY-MM-DD, generate only)")
	flag.Parse()

	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	db := database.InitDatabase()
	defer db.Close()

	payoutCfg := config.LoadPayoutConfig()
	ledgerService := services.NewLedgerService(db)
	ctx := context.Background()

	switch *job {
	case "reconcile":
		reconciler := services.NewReconciliationService(db, ledgerService, payoutCfg)
		result, err := reconciler.ReconcileAvailability(ctx, time.Now())
		if err != nil {
			log.Fatalf("Reconciliation failed: %v", err)
		}
		log.Printf("Reconciliation done: events=%d creators=%d moved=%d cents",
			result.EventsProcessed, result.CreatorsUpdated, result.TotalCentsMoved)

	case "generate":
		start, err := time.Parse("2006-01-02", *periodStart)
		if err != nil {
			log.Fatalf("Invalid -period-start: %v", err)
		}
		end, err := time.Parse("2006-01-02", *periodEnd)
		if err != nil {
			log.Fatalf("Invalid -period-end: %v", err)
		}
		end = end.Add(24*time.Hour - time.Nanosecond)

		auditService := services.NewAuditService(db)
		payoutService := services.NewPayoutService(db, ledgerService, auditService, payoutCfg)
		result, err := payoutService.GenerateWeeklyPayouts(ctx, start, end)
		if err != nil {
			log.Fatalf("Payout generation failed: %v", err)
		}
		log.Printf("Generation done: created=%d total=%d cents below_threshold=%d",
			result.PayoutsCreated, result.TotalCents, result.SkippedBelowThreshold)

	default:
		log.Fatalf("Unknown job %q, expected reconcile or generate", *job)
	}
}
