package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/port"
)

// Postgres SQLSTATE codes.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgForeignKeyViolation  = "23503"
	pgUniqueViolation      = "23505"
)

type userModel struct {
	ID                  int64  `gorm:"primaryKey"`
	Name                string `gorm:"not null"`
	Email               string `gorm:"uniqueIndex;not null"`
	Role                string `gorm:"size:16;not null;default:USER"`
	PasswordHash        string `gorm:"not null"`
	RefreshTokenVersion int    `gorm:"not null;default:0"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (userModel) TableName() string { return "users" }

func (m userModel) toEntity() *domain.User {
	return &domain.User{
		ID:                  m.ID,
		Name:                m.Name,
		Email:               m.Email,
		Role:                domain.Role(m.Role),
		PasswordHash:        m.PasswordHash,
		RefreshTokenVersion: m.RefreshTokenVersion,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

type categoryModel struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

func (categoryModel) TableName() string { return "categories" }

type artifactModel struct {
	ID          int64           `gorm:"primaryKey"`
	Title       string          `gorm:"not null"`
	Description string          `gorm:"not null"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null;check:price >= 0"`
	Stock       int             `gorm:"not null;check:stock >= 0"`
	SellerID    int64           `gorm:"not null;index"`
	CategoryID  int64           `gorm:"not null;index"`
	Seller      userModel       `gorm:"foreignKey:SellerID;constraint:OnDelete:RESTRICT"`
	Category    categoryModel   `gorm:"foreignKey:CategoryID;constraint:OnDelete:RESTRICT"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (artifactModel) TableName() string { return "artifacts" }

func (m artifactModel) toEntity() domain.Artifact {
	return domain.Artifact{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Price:       m.Price,
		Stock:       m.Stock,
		SellerID:    m.SellerID,
		CategoryID:  m.CategoryID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type orderModel struct {
	ID          int64           `gorm:"primaryKey"`
	UserID      int64           `gorm:"not null;index"`
	User        userModel       `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	Status      string          `gorm:"size:16;not null"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	CreatedAt   time.Time       `gorm:"index"`
}

func (orderModel) TableName() string { return "orders" }

type orderItemModel struct {
	ID         int64           `gorm:"primaryKey"`
	OrderID    int64           `gorm:"not null;index"`
	Order      orderModel      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ArtifactID int64           `gorm:"not null;index"`
	Artifact   artifactModel   `gorm:"foreignKey:ArtifactID;constraint:OnDelete:RESTRICT"`
	Quantity   int             `gorm:"not null;check:quantity > 0"`
	Price      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
}

func (orderItemModel) TableName() string { return "order_items" }

type orderItemRow struct {
	ID            int64
	OrderID       int64
	ArtifactID    int64
	ArtifactTitle string
	Quantity      int
	Price         decimal.Decimal
}

type PostgresAdapter struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewPostgresAdapter(db *gorm.DB, logger *slog.Logger) *PostgresAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAdapter{db: db, logger: logger}
}

// OpenPostgres opens a gorm handle and pings it.
func OpenPostgres(ctx context.Context, dsn string, maxOpen int) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxOpen / 2)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	err := p.db.WithContext(ctx).AutoMigrate(
		&userModel{},
		&categoryModel{},
		&artifactModel{},
		&orderModel{},
		&orderItemModel{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	p.logger.Info("postgres schema applied")
	return nil
}

func (p *PostgresAdapter) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *PostgresAdapter) WithinTx(ctx context.Context, fn func(tx port.LedgerTx) error) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&postgresTx{db: tx})
	})
	return classifyPostgres(err)
}

type postgresTx struct {
	db *gorm.DB
}

func (t *postgresTx) LockArtifacts(ctx context.Context, artifactIDs []int64) ([]domain.Artifact, error) {
	if len(artifactIDs) == 0 {
		return nil, nil
	}
	var rows []artifactModel
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", artifactIDs).
		Order("id").
		Find(&rows).
		Error
	if err != nil {
		return nil, fmt.Errorf("lock artifacts: %w", err)
	}
	out := make([]domain.Artifact, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

func (t *postgresTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	row := orderModel{
		UserID:      order.UserID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt,
	}
	if err := t.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID = row.ID

	items := make([]orderItemModel, len(order.Items))
	for i, it := range order.Items {
		items[i] = orderItemModel{
			OrderID:    row.ID,
			ArtifactID: it.ArtifactID,
			Quantity:   it.Quantity,
			Price:      it.Price,
		}
	}
	if err := t.db.WithContext(ctx).Omit(clause.Associations).Create(&items).Error; err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	for i := range order.Items {
		order.Items[i].ID = items[i].ID
		order.Items[i].OrderID = row.ID
	}
	return nil
}

func (t *postgresTx) DecrementStock(ctx context.Context, artifactID int64, quantity int) error {
	res := t.db.WithContext(ctx).
		Model(&artifactModel{}).
		Where("id = ? AND stock >= ?", artifactID, quantity).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", quantity),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("update stock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return port.ErrStockConflict
	}
	return nil
}

func (p *PostgresAdapter) GetArtifact(ctx context.Context, artifactID int64) (*domain.Artifact, error) {
	var row artifactModel
	err := p.db.WithContext(ctx).Where("id = ?", artifactID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a := row.toEntity()
	return &a, nil
}

func (p *PostgresAdapter) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var row orderModel
	err := p.db.WithContext(ctx).Where("id = ?", orderID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := p.loadItems(ctx, []int64{row.ID})
	if err != nil {
		return nil, err
	}
	o := orderFromModel(row, items[row.ID])
	return &o, nil
}

func (p *PostgresAdapter) ListOrders(ctx context.Context, offset, limit int) ([]domain.Order, int, error) {
	var total int64
	if err := p.db.WithContext(ctx).Model(&orderModel{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	var rows []orderModel
	err := p.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).
		Error
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	items, err := p.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, orderFromModel(row, items[row.ID]))
	}
	return orders, int(total), nil
}

func (p *PostgresAdapter) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	out := make(map[int64][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	var rows []orderItemRow
	err := p.db.WithContext(ctx).
		Table("order_items AS oi").
		Select("oi.id, oi.order_id, oi.artifact_id, a.title AS artifact_title, oi.quantity, oi.price").
		Joins("JOIN artifacts a ON a.id = oi.artifact_id").
		Where("oi.order_id IN ?", orderIDs).
		Order("oi.id").
		Scan(&rows).
		Error
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	for _, r := range rows {
		out[r.OrderID] = append(out[r.OrderID], domain.OrderItem{
			ID:            r.ID,
			OrderID:       r.OrderID,
			ArtifactID:    r.ArtifactID,
			ArtifactTitle: r.ArtifactTitle,
			Quantity:      r.Quantity,
			Price:         r.Price,
		})
	}
	return out, nil
}

func orderFromModel(row orderModel, items []domain.OrderItem) domain.Order {
	return domain.Order{
		ID:          row.ID,
		UserID:      row.UserID,
		Status:      domain.OrderStatus(row.Status),
		TotalAmount: row.TotalAmount,
		CreatedAt:   row.CreatedAt,
		Items:       items,
	}
}

func (p *PostgresAdapter) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return p.findUser(ctx, "id = ?", userID)
}

func (p *PostgresAdapter) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return p.findUser(ctx, "email = ?", email)
}

func (p *PostgresAdapter) findUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var row userModel
	err := p.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

func (p *PostgresAdapter) CreateUser(ctx context.Context, user *domain.User) error {
	row := userModel{
		Name:                user.Name,
		Email:               user.Email,
		Role:                string(user.Role),
		PasswordHash:        user.PasswordHash,
		RefreshTokenVersion: user.RefreshTokenVersion,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return classifyPostgres(fmt.Errorf("insert user: %w", err))
	}
	user.ID = row.ID
	user.CreatedAt = row.CreatedAt
	user.UpdatedAt = row.UpdatedAt
	return nil
}

func (p *PostgresAdapter) BumpTokenVersion(ctx context.Context, userID int64, expected int) (*domain.User, error) {
	var updated *domain.User
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&userModel{}).Where("id = ?", userID)
		if expected != port.AnyVersion {
			q = q.Where("refresh_token_version = ?", expected)
		}
		res := q.Updates(map[string]any{
			"refresh_token_version": gorm.Expr("refresh_token_version + 1"),
			"updated_at":            time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}

		var row userModel
		if err := tx.Where("id = ?", userID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return port.ErrNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return port.ErrVersionConflict
		}
		updated = row.toEntity()
		return nil
	})
	if err != nil {
		return nil, classifyPostgres(err)
	}
	return updated, nil
}

func (p *PostgresAdapter) CreateCategory(ctx context.Context, name string) (int64, error) {
	row := categoryModel{Name: name}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}
	return row.ID, nil
}

func (p *PostgresAdapter) CreateArtifact(ctx context.Context, a *domain.Artifact) error {
	row := artifactModel{
		Title:       a.Title,
		Description: a.Description,
		Price:       a.Price,
		Stock:       a.Stock,
		SellerID:    a.SellerID,
		CategoryID:  a.CategoryID,
	}
	if err := p.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	a.ID = row.ID
	a.CreatedAt = row.CreatedAt
	a.UpdatedAt = row.UpdatedAt
	return nil
}

func (p *PostgresAdapter) Reset(ctx context.Context) error {
	return p.db.WithContext(ctx).
		Exec("TRUNCATE order_items, orders, artifacts, categories, users RESTART IDENTITY CASCADE").
		Error
}

// classifyPostgres maps SQLSTATE codes onto port errors.
func classifyPostgres(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return fmt.Errorf("%w: %v", port.ErrTxConflict, err)
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %v", port.ErrNotFound, err)
	case pgUniqueViolation:
		return fmt.Errorf("%w: %v", port.ErrDuplicateEmail, err)
	}
	return err
}
