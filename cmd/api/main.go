package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mcclellann/installments/pkg/config"
	"github.com/mcclellann/installments/pkg/events"
	"github.com/mcclellann/installments/pkg/idempotency"
	"github.com/mcclellann/installments/pkg/ledger"
	"github.com/mcclellann/installments/pkg/logging"
	"github.com/mcclellann/installments/pkg/metrics"
	"github.com/mcclellann/installments/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "installments: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqliteStore, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	idem, closeIdem := newIdempotencyStore(ctx, cfg, logger)
	defer closeIdem()

	m := metrics.New()
	l := ledger.NewLedger(sqliteStore, publisher, m, logger)
	server := NewServer(l, sqliteStore, m, idem, cfg.Idempotency.TTL, logger)
	defer func() {
		if err := server.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		runOverdueScanner(gctx, l, cfg.Scheduler.OverdueInterval, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newPublisher connects to the broker when one is configured. A broker that
// cannot be reached falls back to logging events.
func newPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if cfg.AMQP.URL == "" {
		logger.Info("AMQP disabled, events will be logged")
		return events.NewLogPublisher(logger)
	}
	p, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	if err != nil {
		logger.Warn("failed to connect to AMQP, events will be logged", zap.Error(err))
		return events.NewLogPublisher(logger)
	}
	logger.Info("AMQP publisher initialized", zap.String("exchange", cfg.AMQP.Exchange))
	return p
}

func newIdempotencyStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (idempotency.Store, func()) {
	noop := func() {}
	if cfg.Redis.Addr == "" {
		return idempotency.NewMemoryStore(), noop
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rs, err := idempotency.NewRedisStore(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis unavailable, using in-memory idempotency store", zap.Error(err))
		return idempotency.NewMemoryStore(), noop
	}
	logger.Info("redis idempotency store initialized", zap.String("addr", cfg.Redis.Addr))
	return rs, func() { rs.Close() }
}

// runOverdueScanner scans once at startup and then on every tick until ctx
// is cancelled.
func runOverdueScanner(ctx context.Context, l *ledger.Ledger, interval time.Duration, logger *zap.Logger) {
	scan := func(now time.Time) {
		if _, err := l.ScanOverdue(ctx, now); err != nil && ctx.Err() == nil {
			logger.Error("overdue scan failed", zap.Error(err))
		}
	}
	scan(l.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scan(l.Now())
		}
	}
}
