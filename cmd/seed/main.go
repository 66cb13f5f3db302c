package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/rl1809/folk-trade/internal/adapter/storage"
	"github.com/rl1809/folk-trade/internal/config"
	"github.com/rl1809/folk-trade/internal/core/service"
	"github.com/rl1809/folk-trade/internal/seed"
)

func main() {
	cfg := config.Default()
	fs := pflag.NewFlagSet("folk-trade-seed", pflag.ExitOnError)
	cfg.BindFlags(fs)
	password := fs.String("password", seed.DefaultPassword, "password for every seeded account")
	skipOrders := fs.Bool("skip-orders", false, "do not place sample orders")
	fs.Parse(os.Args[1:])

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := run(context.Background(), cfg, *password, *skipOrders, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, password string, skipOrders bool, logger *slog.Logger) error {
	cfg.Store.Migrate = true
	store, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	orders := service.NewOrderService(store, nil, cfg.Order.MaxRetries, logger)
	res, err := seed.Run(ctx, store, orders, seed.Options{
		Password:   password,
		BcryptCost: cfg.Auth.BcryptCost,
		SkipOrders: skipOrders,
	}, logger)
	if err != nil {
		return err
	}

	for email, id := range res.Users {
		logger.Info("account", "id", id, "email", email)
	}
	logger.Info("seed complete",
		"driver", cfg.Store.Driver,
		"artifacts", res.Artifacts,
		"orders", res.Orders,
	)
	return nil
}
