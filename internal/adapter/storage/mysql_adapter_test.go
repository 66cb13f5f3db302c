package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/port"
)

func getMySQLAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/folktrade?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := NewMySQLAdapter(db, nil)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return adapter, db
}

// seedMySQL creates a seller/buyer and one artifact with the given stock.
func seedMySQL(t *testing.T, adapter *MySQLAdapter, price string, stock int) (buyer int64, artifact int64) {
	ctx := context.Background()
	user := &domain.User{
		Name:         "Test Buyer",
		Email:        uuid.NewString() + "@example.com",
		Role:         domain.RoleUser,
		PasswordHash: "x",
	}
	if err := adapter.CreateUser(ctx, user); err != nil {
		t.Fatalf("setup user failed: %v", err)
	}
	categoryID, err := adapter.CreateCategory(ctx, "cat-"+uuid.NewString())
	if err != nil {
		t.Fatalf("setup category failed: %v", err)
	}
	a := &domain.Artifact{
		Title:      "Test Artifact",
		Price:      decimal.RequireFromString(price),
		Stock:      stock,
		SellerID:   user.ID,
		CategoryID: categoryID,
	}
	if err := adapter.CreateArtifact(ctx, a); err != nil {
		t.Fatalf("setup artifact failed: %v", err)
	}
	return user.ID, a.ID
}

func TestMySQLWithinTx_CommitsOrderAndDecrement(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	buyer, artifactID := seedMySQL(t, adapter, "19.99", 10)

	order := &domain.Order{
		UserID:      buyer,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("59.97"),
		Items: []domain.OrderItem{
			{ArtifactID: artifactID, Quantity: 3, Price: decimal.RequireFromString("19.99")},
		},
	}
	err := adapter.WithinTx(ctx, func(tx port.LedgerTx) error {
		if _, err := tx.LockArtifacts(ctx, []int64{artifactID}); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.DecrementStock(ctx, artifactID, 3)
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	got, err := adapter.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if !got.TotalAmount.Equal(decimal.RequireFromString("59.97")) {
		t.Errorf("expected total 59.97, got %s", got.TotalAmount)
	}
	if len(got.Items) != 1 || got.Items[0].ArtifactTitle != "Test Artifact" {
		t.Errorf("unexpected items: %+v", got.Items)
	}

	a, _ := adapter.GetArtifact(ctx, artifactID)
	if a.Stock != 7 {
		t.Errorf("expected stock 7, got %d", a.Stock)
	}
}

func TestMySQLWithinTx_RollsBackOnError(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	buyer, artifactID := seedMySQL(t, adapter, "5.00", 4)

	var before int
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = ?`, buyer).Scan(&before)

	boom := errors.New("boom")
	err := adapter.WithinTx(ctx, func(tx port.LedgerTx) error {
		order := &domain.Order{UserID: buyer, Status: domain.OrderStatusPending, TotalAmount: decimal.NewFromInt(5),
			Items: []domain.OrderItem{{ArtifactID: artifactID, Quantity: 1, Price: decimal.NewFromInt(5)}}}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.DecrementStock(ctx, artifactID, 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var after int
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = ?`, buyer).Scan(&after)
	if after != before {
		t.Errorf("expected %d orders after rollback, got %d", before, after)
	}
	a, _ := adapter.GetArtifact(ctx, artifactID)
	if a.Stock != 4 {
		t.Errorf("expected stock 4 after rollback, got %d", a.Stock)
	}
}

func TestMySQLDecrementStock_Insufficient(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	_, artifactID := seedMySQL(t, adapter, "1.00", 0)

	err := adapter.WithinTx(ctx, func(tx port.LedgerTx) error {
		return tx.DecrementStock(ctx, artifactID, 1)
	})
	if !errors.Is(err, port.ErrStockConflict) {
		t.Errorf("expected ErrStockConflict, got: %v", err)
	}
}

func TestMySQLInsertOrder_UnknownUser(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	_, artifactID := seedMySQL(t, adapter, "1.00", 1)

	err := adapter.WithinTx(ctx, func(tx port.LedgerTx) error {
		return tx.InsertOrder(ctx, &domain.Order{UserID: -99, Status: domain.OrderStatusPending,
			Items: []domain.OrderItem{{ArtifactID: artifactID, Quantity: 1, Price: decimal.NewFromInt(1)}}})
	})
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMySQLLockArtifacts_SerializesDecrements(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	initialStock := 10
	totalRequests := 25
	_, artifactID := seedMySQL(t, adapter, "2.50", initialStock)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.WithinTx(ctx, func(tx port.LedgerTx) error {
				artifacts, err := tx.LockArtifacts(ctx, []int64{artifactID})
				if err != nil {
					return err
				}
				if artifacts[0].Stock < 1 {
					return port.ErrStockConflict
				}
				return tx.DecrementStock(ctx, artifactID, 1)
			})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	a, _ := adapter.GetArtifact(ctx, artifactID)
	if a.Stock != 0 {
		t.Errorf("expected stock 0, got %d", a.Stock)
	}
}

func TestMySQLBumpTokenVersion(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	buyer, _ := seedMySQL(t, adapter, "1.00", 1)

	u, err := adapter.BumpTokenVersion(ctx, buyer, port.AnyVersion)
	if err != nil {
		t.Fatalf("BumpTokenVersion failed: %v", err)
	}
	if u.RefreshTokenVersion != 1 {
		t.Errorf("expected version 1, got %d", u.RefreshTokenVersion)
	}

	// Stale expectation
	_, err = adapter.BumpTokenVersion(ctx, buyer, 0)
	if !errors.Is(err, port.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got: %v", err)
	}

	u, err = adapter.BumpTokenVersion(ctx, buyer, 1)
	if err != nil {
		t.Fatalf("BumpTokenVersion failed: %v", err)
	}
	if u.RefreshTokenVersion != 2 {
		t.Errorf("expected version 2, got %d", u.RefreshTokenVersion)
	}

	if _, err := adapter.BumpTokenVersion(ctx, -1, port.AnyVersion); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMySQLCreateUser_DuplicateEmail(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	email := uuid.NewString() + "@example.com"
	first := &domain.User{Name: "A", Email: email, Role: domain.RoleUser, PasswordHash: "x"}
	if err := adapter.CreateUser(ctx, first); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	second := &domain.User{Name: "B", Email: email, Role: domain.RoleUser, PasswordHash: "x"}
	if err := adapter.CreateUser(ctx, second); !errors.Is(err, port.ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got: %v", err)
	}
}

func TestMySQLGetOrder_KeepsPriceAtPlacement(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	ctx := context.Background()
	buyer, artifactID := seedMySQL(t, adapter, "19.99", 10)

	order := &domain.Order{
		UserID:      buyer,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("59.97"),
		Items: []domain.OrderItem{
			{ArtifactID: artifactID, Quantity: 3, Price: decimal.RequireFromString("19.99")},
		},
	}
	err := adapter.WithinTx(ctx, func(tx port.LedgerTx) error {
		if _, err := tx.LockArtifacts(ctx, []int64{artifactID}); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.DecrementStock(ctx, artifactID, 3)
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	if _, err := db.ExecContext(ctx, `UPDATE artifacts SET price = ? WHERE id = ?`, "25.00", artifactID); err != nil {
		t.Fatalf("reprice failed: %v", err)
	}

	got, err := adapter.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Price.StringFixed(2) != "19.99" {
		t.Errorf("expected unit price 19.99 after reprice, got %+v", got.Items)
	}
	if got.TotalAmount.StringFixed(2) != "59.97" {
		t.Errorf("expected total 59.97 after reprice, got %s", got.TotalAmount)
	}

	a, _ := adapter.GetArtifact(ctx, artifactID)
	if a.Price.StringFixed(2) != "25.00" {
		t.Errorf("expected artifact price 25.00, got %s", a.Price)
	}
}
