package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/folk-trade/internal/adapter/handler"
	"github.com/rl1809/folk-trade/internal/adapter/storage"
	"github.com/rl1809/folk-trade/internal/adapter/token"
	"github.com/rl1809/folk-trade/internal/config"
	"github.com/rl1809/folk-trade/internal/core/service"
	"github.com/rl1809/folk-trade/internal/port"
	"github.com/rl1809/folk-trade/internal/seed"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("folk-trade", os.Args[1:])
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Idempotency keys need Redis; without it they are ignored.
	var idempotency port.IdempotencyStore
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = storage.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.PoolSize)
		if err != nil {
			return err
		}
		defer rdb.Close()
		idempotency = storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL)
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	orderService := service.NewOrderService(store, idempotency, cfg.Order.MaxRetries, logger)
	sessionService := service.NewSessionService(
		store,
		token.NewJWTSigner(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret),
		service.SessionConfig{
			AccessTTL:      cfg.Auth.AccessTTL,
			RefreshTTL:     cfg.Auth.RefreshTTL,
			RevokeOnLogout: cfg.Auth.RevokeOnLogout,
			BcryptCost:     cfg.Auth.BcryptCost,
		},
		logger,
	)

	if cfg.Store.Driver == config.DriverMemory {
		if _, err := seed.Run(ctx, store, orderService, seed.Options{BcryptCost: cfg.Auth.BcryptCost}, logger); err != nil {
			return err
		}
	}

	httpHandler := handler.NewHTTPHandler(orderService, sessionService, handler.HTTPConfig{
		SecureCookies: cfg.IsProduction(),
		LoginRate:     cfg.Auth.LoginRate,
		LoginBurst:    cfg.Auth.LoginBurst,
	}, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		grpcServer = handler.NewGRPCHandler(orderService, sessionService, logger).NewServer()
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", "error", err)
	}
	logger.Info("HTTP server stopped")

	if grpcServer != nil {
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
	}
	return serveErr
}
