package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/port"
)

//go:embed schema/mysql.sql
var mysqlSchema string

// MySQL server error numbers.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrNoReferenced    = 1452
)

type MySQLAdapter struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewMySQLAdapter(db *sql.DB, logger *slog.Logger) *MySQLAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MySQLAdapter{db: db, logger: logger}
}

// OpenMySQL opens and pings a pool. The DSN must set parseTime=true.
func OpenMySQL(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(mysqlSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	m.logger.Info("mysql schema applied")
	return nil
}

func (m *MySQLAdapter) Close() error {
	return m.db.Close()
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyMySQL(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return classifyMySQL(err)
	}

	if err := tx.Commit(); err != nil {
		return classifyMySQL(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) LockArtifacts(ctx context.Context, artifactIDs []int64) ([]domain.Artifact, error) {
	if len(artifactIDs) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(artifactIDs)

	// Ascending id order keeps the lock acquisition order identical across
	// concurrent transactions.
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, title, description, price, stock, seller_id, category_id, created_at, updated_at
		FROM artifacts WHERE id IN (`+placeholders+`)
		ORDER BY id
		FOR UPDATE`, args...)
	if err != nil {
		return nil, fmt.Errorf("lock artifacts: %w", err)
	}
	defer rows.Close()

	var out []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.Price, &a.Stock,
			&a.SellerID, &a.CategoryID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *mysqlTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (user_id, status, total_amount, created_at)
		VALUES (?, ?, ?, ?)`,
		order.UserID, order.Status, order.TotalAmount, order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("order id: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, artifact_id, quantity, price)
			VALUES (?, ?, ?, ?)`,
			item.OrderID, item.ArtifactID, item.Quantity, item.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		if item.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("order item id: %w", err)
		}
	}
	return nil
}

func (t *mysqlTx) DecrementStock(ctx context.Context, artifactID int64, quantity int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE artifacts
		SET stock = stock - ?, updated_at = ?
		WHERE id = ? AND stock >= ?`,
		quantity, time.Now().UTC(), artifactID, quantity,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if rows == 0 {
		return port.ErrStockConflict
	}
	return nil
}

func (m *MySQLAdapter) GetArtifact(ctx context.Context, artifactID int64) (*domain.Artifact, error) {
	var a domain.Artifact
	err := m.db.QueryRowContext(ctx, `
		SELECT id, title, description, price, stock, seller_id, category_id, created_at, updated_at
		FROM artifacts WHERE id = ?`, artifactID,
	).Scan(&a.ID, &a.Title, &a.Description, &a.Price, &a.Stock,
		&a.SellerID, &a.CategoryID, &a.CreatedAt, &a.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query artifact: %w", err)
	}
	return &a, nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var o domain.Order
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, total_amount, created_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.UserID, &o.Status, &o.TotalAmount, &o.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	items, err := m.loadItems(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, offset, limit int) ([]domain.Order, int, error) {
	var total int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, status, total_amount, created_at
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	var ids []int64
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalAmount, &o.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}

	items, err := m.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, total, nil
}

func (m *MySQLAdapter) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	out := make(map[int64][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	placeholders, args := inClause(orderIDs)

	rows, err := m.db.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, oi.artifact_id, a.title, oi.quantity, oi.price
		FROM order_items oi
		JOIN artifacts a ON a.id = oi.artifact_id
		WHERE oi.order_id IN (`+placeholders+`)
		ORDER BY oi.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ArtifactID, &it.ArtifactTitle, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

const userColumns = `id, name, email, role, password_hash, refresh_token_version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.PasswordHash,
		&u.RefreshTokenVersion, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (m *MySQLAdapter) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return scanUser(m.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
}

func (m *MySQLAdapter) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return scanUser(m.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, user *domain.User) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO users (name, email, role, password_hash, refresh_token_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.Name, user.Email, user.Role, user.PasswordHash, user.RefreshTokenVersion, now, now,
	)
	if err != nil {
		return classifyMySQL(fmt.Errorf("insert user: %w", err))
	}
	user.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	user.CreatedAt, user.UpdatedAt = now, now
	return nil
}

// BumpTokenVersion runs the increment as the only write of its own
// transaction and reads the row back before commit.
func (m *MySQLAdapter) BumpTokenVersion(ctx context.Context, userID int64, expected int) (*domain.User, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE users SET refresh_token_version = refresh_token_version + 1, updated_at = ? WHERE id = ?`
	args := []any{time.Now().UTC(), userID}
	if expected != port.AnyVersion {
		query += ` AND refresh_token_version = ?`
		args = append(args, expected)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classifyMySQL(fmt.Errorf("bump token version: %w", err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("bump token version: %w", err)
	}

	user, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, port.ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyMySQL(fmt.Errorf("commit: %w", err))
	}
	return user, nil
}

func (m *MySQLAdapter) CreateCategory(ctx context.Context, name string) (int64, error) {
	result, err := m.db.ExecContext(ctx, `INSERT INTO categories (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}
	return result.LastInsertId()
}

func (m *MySQLAdapter) CreateArtifact(ctx context.Context, a *domain.Artifact) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO artifacts (title, description, price, stock, seller_id, category_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Title, a.Description, a.Price, a.Stock, a.SellerID, a.CategoryID, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	a.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("artifact id: %w", err)
	}
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

func (m *MySQLAdapter) Reset(ctx context.Context) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"order_items", "orders", "artifacts", "categories", "users"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// classifyMySQL maps server errors onto port errors. Everything else is
// returned unchanged.
func classifyMySQL(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
		return fmt.Errorf("%w: %v", port.ErrTxConflict, err)
	case mysqlErrNoReferenced:
		return fmt.Errorf("%w: %v", port.ErrNotFound, err)
	case mysqlErrDuplicateEntry:
		return fmt.Errorf("%w: %v", port.ErrDuplicateEmail, err)
	}
	return err
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
