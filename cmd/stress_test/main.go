package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/folk-trade/internal/adapter/storage"
	"github.com/rl1809/folk-trade/internal/config"
	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/core/service"
	"github.com/rl1809/folk-trade/internal/port"
)

func main() {
	cfg := config.Default()
	cfg.Store.Driver = config.DriverMemory
	fs := pflag.NewFlagSet("folk-trade-stress", pflag.ExitOnError)
	cfg.BindFlags(fs)
	initialStock := fs.Int("stock", 20, "stock of the contested artifact")
	totalRequests := fs.Int("requests", 50, "concurrent single-unit orders")
	fs.Parse(os.Args[1:])

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := run(context.Background(), cfg, *initialStock, *totalRequests, logger); err != nil {
		fmt.Println("FAIL:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, initialStock, totalRequests int, logger *slog.Logger) error {
	store, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	buyerID, artifactID, err := prepare(ctx, store, initialStock)
	if err != nil {
		return err
	}

	var idempotency port.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb, err := storage.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.PoolSize)
		if err != nil {
			return err
		}
		defer rdb.Close()
		idempotency = storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL)
	}

	orderService := service.NewOrderService(store, idempotency, cfg.Order.MaxRetries, logger)

	var successCount, stockoutCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for range totalRequests {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := orderService.PlaceOrder(ctx, service.PlaceOrderRequest{
				UserID:         buyerID,
				Items:          []domain.LineItem{{ArtifactID: artifactID, Quantity: 1}},
				IdempotencyKey: uuid.NewString(),
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				stockoutCount.Add(1)
			default:
				otherCount.Add(1)
				logger.Error("unexpected order failure", "error", err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	stockout := int(stockoutCount.Load())
	other := int(otherCount.Load())

	artifact, err := store.GetArtifact(ctx, artifactID)
	if err != nil {
		return fmt.Errorf("read final stock: %w", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", cfg.Store.Driver)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", stockout)
	fmt.Printf("Other failures:   %d\n", other)
	fmt.Printf("Final Stock:      %d\n", artifact.Stock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	want := min(initialStock, totalRequests)
	if success != want || other != 0 {
		return fmt.Errorf("expected %d successful orders and no other failures, got %d/%d", want, success, other)
	}
	if artifact.Stock != initialStock-want {
		return fmt.Errorf("expected final stock %d, got %d", initialStock-want, artifact.Stock)
	}
	fmt.Printf("PASS: exactly %d orders succeeded, stock never went negative\n", want)
	return nil
}

// prepare resets the store and creates one buyer and one contested artifact.
func prepare(ctx context.Context, store port.Store, stock int) (int64, int64, error) {
	if err := store.Reset(ctx); err != nil {
		return 0, 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("stress-test"), bcrypt.MinCost)
	if err != nil {
		return 0, 0, err
	}
	buyer := &domain.User{
		Name:         "Stress Buyer",
		Email:        "stress@example.com",
		Role:         domain.RoleUser,
		PasswordHash: string(hash),
	}
	if err := store.CreateUser(ctx, buyer); err != nil {
		return 0, 0, err
	}
	seller := &domain.User{
		Name:         "Stress Seller",
		Email:        "stress-seller@example.com",
		Role:         domain.RoleArtist,
		PasswordHash: string(hash),
	}
	if err := store.CreateUser(ctx, seller); err != nil {
		return 0, 0, err
	}

	categoryID, err := store.CreateCategory(ctx, "Stress")
	if err != nil {
		return 0, 0, err
	}
	artifact := &domain.Artifact{
		Title:      "Contested Pattachitra Scroll",
		Price:      decimal.RequireFromString("49.99"),
		Stock:      stock,
		SellerID:   seller.ID,
		CategoryID: categoryID,
	}
	if err := store.CreateArtifact(ctx, artifact); err != nil {
		return 0, 0, err
	}
	return buyer.ID, artifact.ID, nil
}
