package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/stock-billing/internal/adapter/discovery"
	"github.com/rl1809/stock-billing/internal/adapter/handler"
	"github.com/rl1809/stock-billing/internal/adapter/messaging"
	"github.com/rl1809/stock-billing/internal/adapter/storage"
	"github.com/rl1809/stock-billing/internal/config"
	"github.com/rl1809/stock-billing/internal/core/service"
	"github.com/rl1809/stock-billing/internal/platform/observability"
	"github.com/rl1809/stock-billing/internal/port"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("inventory-service: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadInventory()
	if err != nil {
		return err
	}

	otelShutdown, err := observability.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("setup otel: %w", err)
	}

	logger, err := observability.NewLogger(config.InventoryServiceName, cfg.LogLevel, cfg.OTel.Enabled())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	logger.Info("connected to mysql")

	mysqlAdapter := storage.NewMySQLAdapter(db)

	// Redis is optional; without it the key lock is process-local and
	// product reads skip the cache
	var (
		locker port.KeyLocker = service.NewLocalKeyLocker()
		cache  port.CacheRepository
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		redisAdapter := storage.NewRedisAdapter(rdb, storage.WithRedisLogger(logger))
		locker = redisAdapter
		cache = redisAdapter
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	events, err := messaging.NewPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer events.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("inventory", reg)

	debitOpts := []service.DebitOption{service.WithDebitEvents(events), service.WithDebitMetrics(metrics)}
	if cache != nil {
		debitOpts = append(debitOpts, service.WithDebitCache(cache))
	}
	products := service.NewProductService(mysqlAdapter, cache, logger)
	debits := service.NewDebitService(mysqlAdapter, locker, logger, debitOpts...)

	h := handler.NewInventoryHandler(products, debits, db.PingContext, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewInventoryRouter(h, logger, metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	health := handler.NewGRPCHealth()
	health.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	var consul *discovery.ConsulClient
	serviceID := fmt.Sprintf("%s-%s", config.InventoryServiceName, hostname())
	if cfg.ConsulAddr != "" {
		consul, err = discovery.NewConsulClient(cfg.ConsulAddr, logger)
		if err != nil {
			return err
		}
		if err := consul.Register(discovery.ServiceConfig{
			Name: config.InventoryServiceName,
			ID:   serviceID,
			Port: portOf(cfg.HTTPAddr),
			Tags: []string{"api", "products"},
		}); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	health.SetServing(true)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		health.Shutdown()
		if consul != nil {
			if err := consul.Deregister(serviceID); err != nil {
				logger.Warn("consul deregistration failed", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", zap.Error(err))
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "local"
	}
	return h
}

// portOf extracts the numeric port from a listen address like ":8081".
func portOf(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(p)
	return n
}
