package seed

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/folk-trade/internal/adapter/storage"
	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/core/service"
)

var discardLogger = slog.New(slog.DiscardHandler)

func TestRun_LoadsCatalogAndOrders(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	orders := service.NewOrderService(store, nil, 0, discardLogger)

	res, err := Run(ctx, store, orders, Options{BcryptCost: bcrypt.MinCost}, discardLogger)
	require.NoError(t, err)
	assert.Len(t, res.Users, 4)
	require.Len(t, res.Artifacts, 3)
	require.Len(t, res.Orders, 2)

	first, err := orders.GetOrder(ctx, res.Orders[0])
	require.NoError(t, err)
	assert.Equal(t, res.Users["rohan@example.com"], first.UserID)
	assert.Equal(t, "280.00", first.TotalAmount.StringFixed(2))

	wantStock := []int{5, 8, 7}
	for i, id := range res.Artifacts {
		a, err := store.GetArtifact(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, wantStock[i], a.Stock, a.Title)
	}

	artist, err := store.GetUserByEmail(ctx, "aditi@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleArtist, artist.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(artist.PasswordHash), []byte(DefaultPassword)))
}

func TestRun_IsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()

	_, err := Run(ctx, store, nil, Options{BcryptCost: bcrypt.MinCost}, discardLogger)
	require.NoError(t, err)
	res, err := Run(ctx, store, nil, Options{BcryptCost: bcrypt.MinCost, SkipOrders: true}, discardLogger)
	require.NoError(t, err)
	assert.Len(t, res.Users, 4)
	assert.Empty(t, res.Orders)

	page, total, err := store.ListOrders(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Zero(t, total)
}
