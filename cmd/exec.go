package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rental-payments/config"
	"rental-payments/internal/events"
	"rental-payments/internal/handlers"
	"rental-payments/internal/notify"
	"rental-payments/internal/records"
	"rental-payments/internal/services"
	"rental-payments/internal/services/payment"
	"rental-payments/internal/services/txstore"
	"rental-payments/internal/telemetry"
	_ "rental-payments/migrations"
	"rental-payments/monitoring"
	"rental-payments/security"
	"rental-payments/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func Start() error {
	// Load configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	// Initialize Redis when the store or the rate limiter needs it
	var rdb redis.Cmdable
	if cfg.StoreBackend == config.StoreRedis || cfg.RateLimitPerMinute > 0 {
		client, err := utils.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client
	}

	var store txstore.Store = txstore.NewMemoryStore()
	if cfg.StoreBackend == config.StoreRedis {
		store = txstore.NewRedisStore(rdb)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	}
	defer publisher.Close()

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.PubNubPublishKey != "" {
		notifier = notify.NewPubNubNotifier(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey, log)
	}

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor(ctx, rdb)
	}

	registry := payment.NewRegistry(ctx, payment.NewFactory(cfg, log))
	if err := registry.Warm(ctx); err != nil {
		return err
	}

	app := pocketbase.New()
	ledger := records.NewRecorder(app)

	paymentService := services.NewPaymentService(cfg, services.Deps{
		Registry: registry,
		Store:    store,
		Events:   publisher,
		Notifier: notifier,
		Recorder: ledger,
		Monitor:  monitor,
		Logger:   log,
	})

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService, log)
	adminHandler := handlers.NewAdminHandler(ledger, rdb)
	limiter := security.NewRateLimiter(rdb, cfg.RateLimitPerMinute, log)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})
	app.RootCmd.AddCommand(providersCmd(registry))

	// Setup graceful shutdown
	go handleShutdown(cancel, log)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		payments := e.Router.Group("/api/v1/payments")
		payments.BindFunc(limiter.Middleware())

		payments.GET("/providers", paymentHandler.Providers)
		payments.GET("/fees", paymentHandler.Fees)

		payments.POST("/{provider}/charge", paymentHandler.Charge).Bind(apis.RequireAuth())
		payments.POST("/{provider}/holds", paymentHandler.Hold).Bind(apis.RequireAuth())
		payments.POST("/holds/{holdId}/capture", paymentHandler.Capture).Bind(apis.RequireAuth())
		payments.POST("/holds/{holdId}/release", paymentHandler.Release).Bind(apis.RequireAuth())
		payments.POST("/refunds", paymentHandler.Refund).Bind(apis.RequireAuth())
		payments.POST("/{provider}/cards/tokenize", paymentHandler.Tokenize).Bind(apis.RequireAuth())
		payments.POST("/{provider}/mobile", paymentHandler.MobilePayment).Bind(apis.RequireAuth())
		payments.GET("/{provider}/status/{id}", paymentHandler.Status).Bind(apis.RequireAuth())

		// Admin endpoints
		e.Router.GET("/api/v1/admin/transactions", adminHandler.ListTransactions)
		e.Router.GET("/api/v1/admin/transactions/{id}", adminHandler.GetTransaction)

		// Health check
		e.Router.GET("/health", adminHandler.Health)
		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		log.Info("server routes registered",
			zap.String("mode", cfg.PaymentMode),
			zap.String("store", cfg.StoreBackend),
			zap.String("currency", cfg.PlatformCurrency),
		)
		return e.Next()
	})

	// Start server
	return app.Start()
}

func providersCmd(registry *payment.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the configured payment providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range registry.SupportedProviders() {
				kind := "card"
				if registry.IsMobileMoneyProvider(p) {
					kind = "mobile money"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-24s %s fee\n", p, p.DisplayName()+" ("+kind+")",
					utils.FeeRate(p).Shift(2).String()+"%")
			}
			return nil
		},
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc, log *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info("shutdown signal received, cleaning up")
	cancel()
}
