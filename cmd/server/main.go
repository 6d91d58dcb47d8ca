package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creatorpay/backend/docs"
	"github.com/creatorpay/backend/internal/config"
	"github.com/creatorpay/backend/internal/database"
	"github.com/creatorpay/backend/internal/handlers"
	mW "github.com/creatorpay/backend/internal/middleware"
	"github.com/creatorpay/backend/internal/services"
	"github.com/creatorpay/backend/internal/vault"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title CreatorPay Ledger API
// @version 1.0
// @description Double-entry ledger and payout engine for creator revenue
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("vault.master_key", "VAULT_MASTER_KEY")
	viper.BindEnv("vault.salt", "VAULT_SALT")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	docs.SwaggerInfo.Title = "CreatorPay Ledger API"
	docs.SwaggerInfo.Description = "Double-entry ledger and payout engine for creator revenue"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	bankVault, err := vault.InitVault(vault.Config{
		MasterKey: viper.GetString("vault.master_key"),
		Salt:      []byte(viper.GetString("vault.salt")),
	})
	if err != nil {
		log.Fatalf("Failed to initialize vault: %v", err)
	}

	payoutCfg := config.LoadPayoutConfig()

	// Services
	ledgerService := services.NewLedgerService(db)
	auditService := services.NewAuditService(db)
	revenueService := services.NewRevenueService(db, ledgerService, payoutCfg)
	reconciliationService := services.NewReconciliationService(db, ledgerService, payoutCfg)
	payoutService := services.NewPayoutService(db, ledgerService, auditService, payoutCfg)
	exportService := services.NewExportService(db, bankVault, auditService, payoutCfg)
	settingsService := services.NewSettingsService(db, redisClient, bankVault, payoutCfg)

	// Handlers
	webhookHandler := handlers.NewWebhookHandler(revenueService)
	adminHandler := handlers.NewAdminHandler(reconciliationService, payoutService, exportService)
	creatorHandler := handlers.NewCreatorHandler(revenueService, ledgerService, payoutService, settingsService)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Webhook intake: signature verification happens upstream, the
		// request reaches this service through the internal gateway only.
		r.Post("/webhooks/payments", webhookHandler.HandlePaymentSignal)

		// Creator endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/creator/earnings", creatorHandler.GetEarnings)
			r.Get("/creator/balances", creatorHandler.GetBalances)
			r.Get("/creator/payouts", creatorHandler.ListPayouts)
			r.Get("/creator/payout-settings", creatorHandler.GetPayoutSettings)
			r.Put("/creator/payout-settings", creatorHandler.UpdatePayoutSettings)
		})

		// Operational endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Use(mW.RequireAdmin)

			r.Post("/admin/reconcile", adminHandler.RunReconciliation)
			r.Post("/admin/payouts/generate", adminHandler.GeneratePayouts)
			r.Post("/admin/payouts/export", adminHandler.ExportPayouts)
			r.Get("/admin/payouts/export/{batchId}/pacs008", adminHandler.GetExportBatchPacs008)
			r.Post("/admin/payouts/{payoutId}/status", adminHandler.UpdatePayoutStatus)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
