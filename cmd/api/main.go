package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/discount"
	"github.com/safar/storefront/internal/httpapi"
	"github.com/safar/storefront/internal/kv"
	"github.com/safar/storefront/internal/logging"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/pricing"
	"github.com/safar/storefront/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database")

	sessions, closeSessions, err := openSessions(ctx, cfg.Session, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	table, err := loadPricingTable(cfg.Pricing)
	if err != nil {
		return err
	}
	resolver, err := pricing.NewResolver(table, logger.Named("pricing"))
	if err != nil {
		return err
	}

	discounts, err := discount.NewResolver(discount.ResolverDeps{
		Source: store.Discounts{DB: db},
		Logger: logger.Named("discount"),
	})
	if err != nil {
		return err
	}

	if cfg.Notify.Token == "" {
		cfg.Notify.Token = uuid.NewString()
		logger.Warn("NOTIFY_TOKEN is not set, the confirmation endpoint only accepts this process")
	}

	dispatcher, closeDispatcher := newDispatcher(cfg.Notify, logger)
	defer closeDispatcher()

	orders := store.Orders{DB: db}
	workflow, err := checkout.NewWorkflow(checkout.WorkflowDeps{
		Orders:          orders,
		Dispatcher:      dispatcher,
		Discounts:       discounts,
		Pricing:         resolver,
		DefaultCountry:  resolver.DefaultCountry(),
		Retryable:       database.IsRetryable,
		Logger:          logger.Named("checkout"),
		DispatchTimeout: cfg.Notify.Timeout,
	})
	if err != nil {
		return err
	}

	confirmations, err := notify.NewService(notify.NewSMTPMailer(notify.SMTPConfig{
		Addr:     cfg.SMTP.Addr,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}), cfg.Pricing.Currency, logger.Named("notify"))
	if err != nil {
		return err
	}

	router, err := httpapi.NewRouter(httpapi.Deps{
		Catalog:       store.Catalog{DB: db},
		Orders:        orders,
		Discounts:     discounts,
		Workflow:      workflow,
		Sessions:      sessions,
		Confirmations: confirmations,
		NotifyToken:   cfg.Notify.Token,
		Logger:        logger.Named("http"),
		Timeout:       cfg.Server.WriteTimeout,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	workflow.Wait()
	return nil
}

func openSessions(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (kv.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL is not set, sessions are kept in memory")
		return kv.NewMemory(), func() {}, nil
	}

	rdb, err := kv.NewRedisFromURL(ctx, cfg.RedisURL, cfg.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

func loadPricingTable(cfg config.PricingConfig) (*pricing.Table, error) {
	table := pricing.DefaultTable()
	if cfg.CountriesFile != "" {
		var err error
		if table, err = pricing.LoadTableFile(cfg.CountriesFile); err != nil {
			return nil, err
		}
	}
	if cfg.DefaultCountry == "" {
		return table, nil
	}
	return table.WithDefaultCountry(cfg.DefaultCountry)
}

func newDispatcher(cfg config.NotifyConfig, logger *zap.Logger) (notify.Dispatcher, func()) {
	switch cfg.Transport {
	case config.NotifyKafka:
		w := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("order confirmations go to kafka", zap.String("topic", cfg.KafkaTopic))
		return notify.NewKafkaDispatcher(w), func() { _ = w.Close() }
	case config.NotifyNone:
		logger.Warn("order confirmations are disabled")
		return notify.Nop{}, func() {}
	default:
		logger.Info("order confirmations go to http", zap.String("url", cfg.URL))
		return notify.NewHTTPDispatcher(cfg.URL, cfg.Token, cfg.Timeout), func() {}
	}
}
