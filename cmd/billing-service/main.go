package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/stock-billing/internal/adapter/client"
	"github.com/rl1809/stock-billing/internal/adapter/discovery"
	"github.com/rl1809/stock-billing/internal/adapter/handler"
	"github.com/rl1809/stock-billing/internal/adapter/messaging"
	"github.com/rl1809/stock-billing/internal/adapter/storage"
	"github.com/rl1809/stock-billing/internal/config"
	"github.com/rl1809/stock-billing/internal/core/service"
	"github.com/rl1809/stock-billing/internal/platform/observability"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("billing-service: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBilling()
	if err != nil {
		return err
	}

	otelShutdown, err := observability.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("setup otel: %w", err)
	}

	logger, err := observability.NewLogger(config.BillingServiceName, cfg.LogLevel, cfg.OTel.Enabled())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(pingCtx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	inventoryURL := cfg.InventoryURL
	if cfg.ConsulAddr != "" {
		consul, err := discovery.NewConsulClient(cfg.ConsulAddr, logger)
		if err != nil {
			return err
		}
		resolved, err := consul.ServiceURL(config.InventoryServiceName)
		if err != nil {
			logger.Warn("inventory lookup in consul failed, using configured URL", zap.Error(err))
		} else {
			inventoryURL = resolved
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("billing", reg)

	clientOpts := []client.Option{client.WithMetrics(metrics)}
	if cfg.InventoryGRPCAddr != "" {
		conn, err := grpc.NewClient(cfg.InventoryGRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial inventory grpc: %w", err)
		}
		defer conn.Close()
		clientOpts = append(clientOpts, client.WithHealthConn(conn))
	}
	inventory := client.NewInventoryClient(inventoryURL, cfg.Resilience, logger, clientOpts...)
	logger.Info("inventory client ready", zap.String("url", inventoryURL))

	events, err := messaging.NewPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer events.Close()

	invoiceRepo := storage.NewPostgresAdapter(pool)
	invoices := service.NewInvoiceService(invoiceRepo, inventory, service.NewNumberAllocator(invoiceRepo), logger)
	finalizer := service.NewFinalizer(invoiceRepo, inventory, logger,
		service.WithProcessingDelay(cfg.ProcessingDelay),
		service.WithFinalizerEvents(events),
		service.WithFinalizerMetrics(metrics),
	)

	h := handler.NewBillingHandler(invoices, finalizer, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewBillingRouter(h, logger, metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", zap.Error(err))
		}
		logger.Info("HTTP server stopped")

		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
