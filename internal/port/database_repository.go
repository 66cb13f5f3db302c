package port

import (
	"context"
	"errors"

	"github.com/rl1809/folk-trade/internal/core/domain"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")

	// ErrTxConflict reports a deadlock or serialization failure. The whole
	// unit of work may be retried.
	ErrTxConflict = errors.New("transaction conflict")

	// ErrStockConflict is returned by DecrementStock when the conditional
	// update matched no row.
	ErrStockConflict = errors.New("stock conflict")

	// ErrVersionConflict is returned by BumpTokenVersion when the stored
	// version no longer equals the expected one.
	ErrVersionConflict = errors.New("token version conflict")

	ErrDuplicateEmail = errors.New("duplicate email")
)

// LedgerRepository owns artifacts and orders. All stock writes happen
// inside WithinTx.
type LedgerRepository interface {
	// WithinTx runs fn in one atomic unit of work. The work is committed
	// only when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	ListOrders(ctx context.Context, offset, limit int) ([]domain.Order, int, error)

	GetArtifact(ctx context.Context, artifactID int64) (*domain.Artifact, error)
}

// LedgerTx is the set of operations available inside a unit of work.
type LedgerTx interface {
	// LockArtifacts fetches the artifacts and holds a write lock on each
	// row until the unit of work ends. Unknown ids are omitted.
	LockArtifacts(ctx context.Context, artifactIDs []int64) ([]domain.Artifact, error)

	// InsertOrder persists the order and its items, filling in their ids.
	InsertOrder(ctx context.Context, order *domain.Order) error

	// DecrementStock subtracts quantity if enough stock remains.
	DecrementStock(ctx context.Context, artifactID int64, quantity int) error
}

type UserRepository interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	CreateUser(ctx context.Context, user *domain.User) error

	// BumpTokenVersion atomically increments the refresh-token version and
	// returns the updated user. With expected >= 0 the increment happens
	// only while the stored version equals expected.
	BumpTokenVersion(ctx context.Context, userID int64, expected int) (*domain.User, error)
}

// AnyVersion disables the compare step of BumpTokenVersion.
const AnyVersion = -1

// CatalogRepository loads reference data. Only the seed command writes
// through it.
type CatalogRepository interface {
	CreateCategory(ctx context.Context, name string) (int64, error)

	CreateArtifact(ctx context.Context, artifact *domain.Artifact) error

	// Reset deletes all orders, artifacts, categories and users.
	Reset(ctx context.Context) error
}

// Store is a complete backend for the service.
type Store interface {
	LedgerRepository
	UserRepository
	CatalogRepository

	Migrate(ctx context.Context) error
	Close() error
}
