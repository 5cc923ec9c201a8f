/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the benefit wallet server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Logger and tracer
  3. SQLite store, ID generator, plan cache
  4. Event publishers (RabbitMQ when configured)
  5. Wallet ledger, payment service, one lifecycle per service type
  6. Payment settlement: amqp consumer, or in-process listeners
  7. No-show sweeper (when enabled)
  8. HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_ADDR)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper and the consumer
  4. Flush traces, close broker and database connections

ENVIRONMENT:
  See config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/carepay/benefit-wallet/api"
	"github.com/carepay/benefit-wallet/appointment"
	"github.com/carepay/benefit-wallet/cache"
	"github.com/carepay/benefit-wallet/config"
	"github.com/carepay/benefit-wallet/dental"
	"github.com/carepay/benefit-wallet/diagnostic"
	"github.com/carepay/benefit-wallet/generic"
	"github.com/carepay/benefit-wallet/ids"
	"github.com/carepay/benefit-wallet/lab"
	"github.com/carepay/benefit-wallet/mq"
	"github.com/carepay/benefit-wallet/obs"
	"github.com/carepay/benefit-wallet/payments"
	"github.com/carepay/benefit-wallet/store/sqlite"
	"github.com/carepay/benefit-wallet/vision"
)

const serviceName = "benefit-wallet"

var version = "dev"

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides HTTP_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.HTTPAddr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracer, err := obs.InitTracer(ctx, serviceName, version, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	idGen := ids.NewULID()

	var plans generic.PlanConfigService = store
	var planCache *cache.PlanCache
	if addrs := cfg.RedisAddrs(); len(addrs) > 0 {
		client := cache.NewClient(addrs, cfg.RedisPassword, len(addrs) > 1)
		defer client.Close()
		planCache = cache.NewPlanCache(store, client, cfg.PlanCacheTTL, logger)
		plans = planCache
		logger.Info("plan cache enabled", zap.Strings("redis", addrs))
	}

	// Events stay in-process unless a broker is configured.
	var bookingEvents, paymentEvents generic.EventPublisher
	if cfg.RabbitURL != "" {
		bp, err := mq.NewPublisher(cfg.RabbitURL, cfg.BookingExchange)
		if err != nil {
			return err
		}
		defer bp.Close()
		pp, err := mq.NewPublisher(cfg.RabbitURL, cfg.PaymentExchange)
		if err != nil {
			return err
		}
		defer pp.Close()
		bookingEvents, paymentEvents = bp, pp
	}

	ledger := generic.NewWalletLedger(store, idGen,
		generic.WithLedgerLogger(logger),
		generic.WithLedgerEvents(bookingEvents),
		generic.WithMemberDirectory(store),
	)

	payOpts := []payments.Option{payments.WithLogger(logger)}
	if paymentEvents != nil {
		payOpts = append(payOpts, payments.WithEvents(paymentEvents))
	}
	pay := payments.NewService(store, idGen, payOpts...)

	deps := generic.LifecycleDeps{
		Ledger:             ledger,
		Plans:              plans,
		Assignments:        store,
		IDs:                idGen,
		Payments:           pay,
		Summaries:          pay,
		Invoices:           pay,
		Events:             bookingEvents,
		Logger:             logger,
		CancellationCutoff: cfg.CancellationCutoff,
	}
	services := []api.BookingService{
		api.Bind(appointment.New(sqlite.NewBookingStore[appointment.Details](store, generic.ServiceAppointment), deps)),
		api.Bind(diagnostic.New(sqlite.NewBookingStore[diagnostic.Details](store, generic.ServiceDiagnostic), deps)),
		api.Bind(lab.New(sqlite.NewBookingStore[lab.Details](store, generic.ServiceLab), deps)),
		api.Bind(dental.New(sqlite.NewBookingStore[dental.Details](store, generic.ServiceDental), deps)),
		api.Bind(vision.New(sqlite.NewBookingStore[vision.Details](store, generic.ServiceVision), deps)),
	}

	// Payment settlement
	if cfg.RabbitURL != "" {
		consumer := mq.NewPaymentConsumer(mq.ConsumerConfig{
			URL:      cfg.RabbitURL,
			Exchange: cfg.PaymentExchange,
			Queue:    cfg.PaymentQueue,
			DLX:      cfg.PaymentDLX,
			DLQ:      cfg.PaymentDLQ,
		}, logger)
		for _, s := range services {
			consumer.Route(s.Info().Type, s)
		}
		if err := consumer.Connect(); err != nil {
			return err
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("payment consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("payment consumer started", zap.String("queue", cfg.PaymentQueue))
	} else {
		for _, s := range services {
			pay.Subscribe(s)
		}
	}

	handler := api.NewHandler(store, ledger, pay, logger, services...)
	handler.Plans = plans
	handler.NoShowGrace = cfg.NoShowGrace
	if planCache != nil {
		handler.PlanCache = planCache
	}

	if cfg.NoShowSweepInterval > 0 {
		sweeper, err := api.NewNoShowSweeper(handler.Services(), cfg.NoShowSweepInterval, cfg.NoShowGrace, logger)
		if err != nil {
			return err
		}
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.HTTPAddr), zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
