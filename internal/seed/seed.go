// Package seed loads the demo marketplace: categories, accounts, artifacts
// and a couple of orders placed through the order engine.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/core/service"
	"github.com/rl1809/folk-trade/internal/port"
)

// DefaultPassword is shared by every seeded account.
const DefaultPassword = "folkpass123"

type Options struct {
	Password   string
	BcryptCost int
	// SkipOrders leaves the order tables empty.
	SkipOrders bool
}

type Result struct {
	// Users maps email to id.
	Users     map[string]int64
	Artifacts []int64
	Orders    []int64
}

var accounts = []struct {
	name  string
	email string
	role  domain.Role
}{
	{"Folk Trade Admin", "admin@example.com", domain.RoleAdmin},
	{"Aditi Jha", "aditi@example.com", domain.RoleArtist},
	{"Rohan Mehta", "rohan@example.com", domain.RoleUser},
	{"Meera Iyer", "meera@example.com", domain.RoleUser},
}

var catalog = []struct {
	category    string
	title       string
	description string
	price       string
	stock       int
}{
	{"Madhubani", "Madhubani Fish Pair", "Natural pigments on handmade paper", "120.00", 6},
	{"Warli", "Warli Harvest Dance", "Rice paste on cow-dung washed cloth", "80.00", 10},
	{"Dhokra", "Dhokra Brass Horse", "Lost-wax cast brass figurine", "95.00", 8},
}

// Run wipes store and loads the demo data. Sample orders go through orders
// so they decrement stock exactly like live traffic.
func Run(ctx context.Context, store port.Store, orders *service.OrderService, opts Options, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	if err := store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset store: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	res := &Result{Users: make(map[string]int64, len(accounts))}
	var sellerID int64
	for _, a := range accounts {
		user := &domain.User{Name: a.name, Email: a.email, Role: a.role, PasswordHash: string(hash)}
		if err := store.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("create user %s: %w", a.email, err)
		}
		res.Users[a.email] = user.ID
		if a.role == domain.RoleArtist {
			sellerID = user.ID
		}
	}

	categories := make(map[string]int64)
	for _, item := range catalog {
		categoryID, ok := categories[item.category]
		if !ok {
			categoryID, err = store.CreateCategory(ctx, item.category)
			if err != nil {
				return nil, fmt.Errorf("create category %s: %w", item.category, err)
			}
			categories[item.category] = categoryID
		}

		artifact := &domain.Artifact{
			Title:       item.title,
			Description: item.description,
			Price:       decimal.RequireFromString(item.price),
			Stock:       item.stock,
			SellerID:    sellerID,
			CategoryID:  categoryID,
		}
		if err := store.CreateArtifact(ctx, artifact); err != nil {
			return nil, fmt.Errorf("create artifact %q: %w", item.title, err)
		}
		res.Artifacts = append(res.Artifacts, artifact.ID)
	}

	logger.Info("catalog seeded",
		"users", len(res.Users),
		"categories", len(categories),
		"artifacts", len(res.Artifacts),
	)

	if opts.SkipOrders || orders == nil {
		return res, nil
	}

	samples := []service.PlaceOrderRequest{
		{
			UserID: res.Users["rohan@example.com"],
			Items: []domain.LineItem{
				{ArtifactID: res.Artifacts[0], Quantity: 1},
				{ArtifactID: res.Artifacts[1], Quantity: 2},
			},
		},
		{
			UserID: res.Users["meera@example.com"],
			Items:  []domain.LineItem{{ArtifactID: res.Artifacts[2], Quantity: 1}},
		},
	}
	for _, req := range samples {
		order, err := orders.PlaceOrder(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("place sample order for user %d: %w", req.UserID, err)
		}
		res.Orders = append(res.Orders, order.ID)
	}
	logger.Info("sample orders placed", "orders", len(res.Orders))

	return res, nil
}
