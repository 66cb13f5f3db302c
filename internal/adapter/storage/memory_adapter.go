package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/port"
)

// MemoryAdapter is an instance-scoped ledger and user store for tests and
// local runs. Units of work are serialized by a single mutex and staged
// until commit, so a failed unit leaves nothing behind.
type MemoryAdapter struct {
	mu sync.Mutex

	artifacts   map[int64]domain.Artifact
	orders      map[int64]domain.Order
	users       map[int64]domain.User
	userByEmail map[string]int64
	categories  []domain.Category

	nextArtifactID int64
	nextOrderID    int64
	nextItemID     int64
	nextUserID     int64
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		artifacts:   make(map[int64]domain.Artifact),
		orders:      make(map[int64]domain.Order),
		users:       make(map[int64]domain.User),
		userByEmail: make(map[string]int64),
	}
}

// PutArtifact inserts or replaces an artifact and returns its id.
func (m *MemoryAdapter) PutArtifact(a domain.Artifact) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == 0 {
		m.nextArtifactID++
		a.ID = m.nextArtifactID
	} else if a.ID > m.nextArtifactID {
		m.nextArtifactID = a.ID
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	m.artifacts[a.ID] = a
	return a.ID
}

func (m *MemoryAdapter) GetArtifact(_ context.Context, artifactID int64) (*domain.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.artifacts[artifactID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &a, nil
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: m, stock: make(map[int64]int)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, stock := range tx.stock {
		a := m.artifacts[id]
		a.Stock = stock
		a.UpdatedAt = time.Now().UTC()
		m.artifacts[id] = a
	}
	for _, o := range tx.orders {
		m.orders[o.ID] = cloneOrder(o)
	}
	m.nextOrderID = tx.nextOrderID(false)
	m.nextItemID = tx.nextItemID(false)
	return nil
}

func (m *MemoryAdapter) GetOrder(_ context.Context, orderID int64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, port.ErrNotFound
	}
	out := cloneOrder(o)
	return &out, nil
}

func (m *MemoryAdapter) ListOrders(_ context.Context, offset, limit int) ([]domain.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		all = append(all, cloneOrder(o))
	}
	slices.SortFunc(all, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})

	total := len(all)
	if offset >= total {
		return []domain.Order{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (m *MemoryAdapter) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, port.ErrNotFound
	}
	return &u, nil
}

func (m *MemoryAdapter) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.userByEmail[strings.ToLower(email)]
	if !ok {
		return nil, port.ErrNotFound
	}
	u := m.users[id]
	return &u, nil
}

func (m *MemoryAdapter) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := m.userByEmail[email]; exists {
		return port.ErrDuplicateEmail
	}
	m.nextUserID++
	now := time.Now().UTC()
	user.ID = m.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = *user
	m.userByEmail[email] = user.ID
	return nil
}

func (m *MemoryAdapter) BumpTokenVersion(_ context.Context, userID int64, expected int) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, port.ErrNotFound
	}
	if expected != port.AnyVersion && u.RefreshTokenVersion != expected {
		return nil, port.ErrVersionConflict
	}
	u.RefreshTokenVersion++
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return &u, nil
}

type memoryTx struct {
	store  *MemoryAdapter
	stock  map[int64]int
	orders []domain.Order
	orderN int64
	itemN  int64
}

func (t *memoryTx) currentStock(id int64) int {
	if s, ok := t.stock[id]; ok {
		return s
	}
	return t.store.artifacts[id].Stock
}

func (t *memoryTx) LockArtifacts(_ context.Context, artifactIDs []int64) ([]domain.Artifact, error) {
	out := make([]domain.Artifact, 0, len(artifactIDs))
	for _, id := range artifactIDs {
		a, ok := t.store.artifacts[id]
		if !ok {
			continue
		}
		a.Stock = t.currentStock(id)
		out = append(out, a)
	}
	return out, nil
}

func (t *memoryTx) InsertOrder(_ context.Context, order *domain.Order) error {
	if _, ok := t.store.users[order.UserID]; !ok {
		return port.ErrNotFound
	}
	order.ID = t.nextOrderID(true)
	for i := range order.Items {
		order.Items[i].ID = t.nextItemID(true)
		order.Items[i].OrderID = order.ID
	}
	t.orders = append(t.orders, cloneOrder(*order))
	return nil
}

func (t *memoryTx) DecrementStock(_ context.Context, artifactID int64, quantity int) error {
	if _, ok := t.store.artifacts[artifactID]; !ok {
		return port.ErrStockConflict
	}
	current := t.currentStock(artifactID)
	if current < quantity {
		return port.ErrStockConflict
	}
	t.stock[artifactID] = current - quantity
	return nil
}

func (t *memoryTx) nextOrderID(advance bool) int64 {
	if advance {
		t.orderN++
	}
	return t.store.nextOrderID + t.orderN
}

func (t *memoryTx) nextItemID(advance bool) int64 {
	if advance {
		t.itemN++
	}
	return t.store.nextItemID + t.itemN
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

func (m *MemoryAdapter) CreateCategory(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.categories = append(m.categories, domain.Category{ID: int64(len(m.categories) + 1), Name: name})
	return int64(len(m.categories)), nil
}

func (m *MemoryAdapter) CreateArtifact(_ context.Context, artifact *domain.Artifact) error {
	artifact.ID = m.PutArtifact(*artifact)
	return nil
}

func (m *MemoryAdapter) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.artifacts)
	clear(m.orders)
	clear(m.users)
	clear(m.userByEmail)
	m.categories = nil
	return nil
}

func (m *MemoryAdapter) Migrate(context.Context) error { return nil }

func (m *MemoryAdapter) Close() error { return nil }
