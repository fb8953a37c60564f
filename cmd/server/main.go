package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buildcore-ai/be-ap-approvals/internal/client"
	"github.com/buildcore-ai/be-ap-approvals/internal/config"
	"github.com/buildcore-ai/be-ap-approvals/internal/database"
	"github.com/buildcore-ai/be-ap-approvals/internal/handler"
	"github.com/buildcore-ai/be-ap-approvals/internal/logger"
	"github.com/buildcore-ai/be-ap-approvals/internal/middleware"
	"github.com/buildcore-ai/be-ap-approvals/internal/queue"
	"github.com/buildcore-ai/be-ap-approvals/internal/repository"
	"github.com/buildcore-ai/be-ap-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting AP Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}

	// Run migrations before opening the pool
	if cfg.Database.Migrate {
		if err := database.Migrate(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		log.Info().Msg("Database migrations applied")
	}

	// Initialize database
	db, err := database.New(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	invoiceRepo := repository.NewInvoiceRepository(db)
	rulesRepo := repository.NewApprovalRulesRepository(db)
	stepsRepo := repository.NewApprovalStepsRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	exportLogRepo := repository.NewExportLogRepository(db)

	// Connect to NATS; an empty URL disables the queue and rule-change
	// rerouting runs in-process instead.
	var nc *queue.Client
	if cfg.NATS.URL != "" {
		nc, err = queue.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS disabled; rule-change rerouting runs in-process")
	}

	// Initialize HTTP service clients
	extractionClient := client.NewExtractionClient(cfg.Clients.ExtractionURL)
	storageClient := client.NewStorageClient(cfg.Clients.StorageURL)
	accountingClient := client.NewAccountingClient(cfg.Clients.AccountingURL)
	identityClient := client.NewIdentityClient(cfg.Clients.IdentityURL)
	notifier := client.NewNotificationPublisher(nc, log.Logger)

	log.Info().
		Str("extraction", cfg.Clients.ExtractionURL).
		Str("storage", cfg.Clients.StorageURL).
		Str("accounting", cfg.Clients.AccountingURL).
		Str("identity", cfg.Clients.IdentityURL).
		Msg("Service clients initialized")

	// Initialize services
	invoiceService := service.NewInvoiceService(service.InvoiceServiceDeps{
		Invoices:   invoiceRepo,
		Rules:      rulesRepo,
		Steps:      stepsRepo,
		Activity:   activityRepo,
		ExportLogs: exportLogRepo,
		Identity:   identityClient,
		Extractor:  extractionClient,
		Storage:    storageClient,
		Exporter:   accountingClient,
		Notifier:   notifier,
	}, log)

	reassigner := service.NewReassigner(invoiceRepo, rulesRepo, stepsRepo, activityRepo, log)

	var publisher service.TaskPublisher
	if nc != nil {
		publisher = nc
		if err := reassigner.Start(nc); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe reassignment worker")
		}
		log.Info().Str("subject", service.SubjectReassign).Msg("Reassignment worker subscribed")
	}

	ruleService := service.NewRuleService(rulesRepo, publisher, reassigner, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(invoiceService, ruleService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Invoice routes
	mux.HandleFunc("/api/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListInvoices(w, r)
		case http.MethodPost:
			httpHandler.CreateInvoice(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("GET /api/v1/invoices/get", httpHandler.GetInvoice)
	mux.HandleFunc("POST /api/v1/invoices/process", httpHandler.ProcessInvoice)
	mux.HandleFunc("POST /api/v1/invoices/coding", httpHandler.UpdateCoding)
	mux.HandleFunc("POST /api/v1/invoices/confirm", httpHandler.ConfirmInvoice)
	mux.HandleFunc("POST /api/v1/invoices/submit", httpHandler.SubmitInvoice)
	mux.HandleFunc("POST /api/v1/invoices/approve", httpHandler.ApproveInvoice)
	mux.HandleFunc("POST /api/v1/invoices/reject", httpHandler.RejectInvoice)
	mux.HandleFunc("POST /api/v1/invoices/bulk-approve", httpHandler.BulkApprove)
	mux.HandleFunc("POST /api/v1/invoices/hold", httpHandler.ToggleHold)
	mux.HandleFunc("POST /api/v1/invoices/urgent", httpHandler.ToggleUrgent)
	mux.HandleFunc("POST /api/v1/invoices/export", httpHandler.ExportInvoice)
	mux.HandleFunc("GET /api/v1/invoices/activity", httpHandler.GetActivity)
	mux.HandleFunc("GET /api/v1/invoices/export-logs", httpHandler.GetExportLogs)

	// Approval routes
	mux.HandleFunc("GET /api/v1/approvals/pending", httpHandler.ListPendingApprovals)

	// Rule routes
	mux.HandleFunc("/api/v1/rules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListRules(w, r)
		case http.MethodPost:
			httpHandler.CreateRule(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("GET /api/v1/rules/get", httpHandler.GetRule)
	mux.HandleFunc("POST /api/v1/rules/update", httpHandler.UpdateRule)
	mux.HandleFunc("DELETE /api/v1/rules/delete", httpHandler.DeleteRule)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
