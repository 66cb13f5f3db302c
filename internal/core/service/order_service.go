package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/folk-trade/internal/core/domain"
	"github.com/rl1809/folk-trade/internal/port"
)

const (
	defaultMaxAttempts = 3
	defaultPageSize    = 10
	maxPageSize        = 100

	// MaxQuantity bounds one line and the merged quantity per artifact. It
	// matches the INT quantity and stock columns.
	MaxQuantity = math.MaxInt32
)

type PlaceOrderRequest struct {
	UserID          int64
	Items           []domain.LineItem
	SimulateFailure bool
	// IdempotencyKey is optional. A repeated key replays the first result.
	IdempotencyKey string
}

type OrderPage struct {
	Orders   []domain.Order
	Page     int
	PageSize int
	Total    int
	Pages    int
}

type OrderService struct {
	ledger      port.LedgerRepository
	idempotency port.IdempotencyStore
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewOrderService builds the order engine. idempotency may be nil, in which
// case idempotency keys are ignored.
func NewOrderService(ledger port.LedgerRepository, idempotency port.IdempotencyStore, maxAttempts int, logger *slog.Logger) *OrderService {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &OrderService{
		ledger:      ledger,
		idempotency: idempotency,
		maxAttempts: maxAttempts,
		logger:      resolveLogger(logger),
		now:         time.Now,
	}
}

func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if err := validatePlaceOrder(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey == "" || s.idempotency == nil {
		return s.placeOrder(ctx, req)
	}

	key := fmt.Sprintf("order:%d:%s", req.UserID, req.IdempotencyKey)
	ok, err := s.idempotency.Reserve(ctx, key)
	if err != nil {
		return nil, s.persistenceFailure("idempotency check failed", err)
	}
	if !ok {
		return s.replay(ctx, key)
	}

	order, err := s.placeOrder(ctx, req)
	if err != nil {
		if releaseErr := s.idempotency.Release(ctx, key); releaseErr != nil {
			s.logger.Error("release idempotency key", "key", key, "error", releaseErr)
		}
		return nil, err
	}

	if err := s.idempotency.Complete(ctx, key, order.ID); err != nil {
		// The order is committed; a failed record only weakens replay.
		s.logger.Error("complete idempotency key", "key", key, "order_id", order.ID, "error", err)
	}
	return order, nil
}

func (s *OrderService) replay(ctx context.Context, key string) (*domain.Order, error) {
	orderID, found, err := s.idempotency.Lookup(ctx, key)
	if err != nil {
		return nil, s.persistenceFailure("idempotency lookup failed", err)
	}
	if !found || orderID == 0 {
		return nil, &domain.Error{Kind: domain.KindDuplicateRequest, Message: "duplicate request"}
	}
	s.logger.Info("replaying idempotent order", "key", key, "order_id", orderID)
	return s.GetOrder(ctx, orderID)
}

func (s *OrderService) placeOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	ids, quantities, err := mergeLineItems(req.Items)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		order, err := s.commitOrder(ctx, req, ids, quantities)
		if err == nil {
			s.logger.Info("order placed",
				"order_id", order.ID,
				"user_id", order.UserID,
				"total", order.TotalAmount.StringFixed(2),
				"items", len(order.Items),
			)
			return order, nil
		}

		var domainErr *domain.Error
		if errors.As(err, &domainErr) {
			return nil, err
		}
		if errors.Is(err, port.ErrNotFound) {
			return nil, domain.NewMissingResourceError("user not found", map[string]int64{"userId": req.UserID})
		}
		if errors.Is(err, port.ErrTxConflict) && attempt < s.maxAttempts && ctx.Err() == nil {
			s.logger.Warn("order transaction conflict, retrying", "user_id", req.UserID, "attempt", attempt)
			continue
		}
		return nil, s.persistenceFailure("order transaction failed", err)
	}
}

func (s *OrderService) commitOrder(ctx context.Context, req PlaceOrderRequest, ids []int64, quantities map[int64]int) (*domain.Order, error) {
	var placed *domain.Order

	err := s.ledger.WithinTx(ctx, func(tx port.LedgerTx) error {
		artifacts, err := tx.LockArtifacts(ctx, ids)
		if err != nil {
			return err
		}

		byID := make(map[int64]domain.Artifact, len(artifacts))
		for _, a := range artifacts {
			byID[a.ID] = a
		}
		if len(byID) != len(ids) {
			var missing []int64
			for _, id := range ids {
				if _, ok := byID[id]; !ok {
					missing = append(missing, id)
				}
			}
			return domain.NewMissingResourceError("one or more artifacts are missing", map[string][]int64{"artifactIds": missing})
		}

		var shortfalls []domain.StockShortfall
		for _, id := range ids {
			if quantities[id] > byID[id].Stock {
				shortfalls = append(shortfalls, domain.StockShortfall{
					ArtifactID: id,
					Requested:  quantities[id],
					Available:  byID[id].Stock,
				})
			}
		}
		if len(shortfalls) > 0 {
			return domain.NewInsufficientStockError(shortfalls)
		}

		order := &domain.Order{
			UserID:      req.UserID,
			Status:      domain.OrderStatusPending,
			TotalAmount: decimal.Zero,
			CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
			Items:       make([]domain.OrderItem, 0, len(req.Items)),
		}
		for _, line := range req.Items {
			artifact := byID[line.ArtifactID]
			order.TotalAmount = order.TotalAmount.Add(artifact.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
			order.Items = append(order.Items, domain.OrderItem{
				ArtifactID:    artifact.ID,
				ArtifactTitle: artifact.Title,
				Quantity:      line.Quantity,
				Price:         artifact.Price,
			})
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		for _, id := range ids {
			if err := tx.DecrementStock(ctx, id, quantities[id]); err != nil {
				if errors.Is(err, port.ErrStockConflict) {
					return domain.NewInsufficientStockError([]domain.StockShortfall{{
						ArtifactID: id,
						Requested:  quantities[id],
						Available:  byID[id].Stock,
					}})
				}
				return err
			}
		}

		if req.SimulateFailure {
			return &domain.Error{Kind: domain.KindSimulatedFailure, Message: "simulated failure to verify rollback"}
		}

		placed = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	if orderID <= 0 {
		return nil, domain.NewValidationError(domain.FieldError{Field: "id", Message: "must be a positive integer"})
	}
	order, err := s.ledger.GetOrder(ctx, orderID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, domain.NewMissingResourceError("order not found", map[string]int64{"orderId": orderID})
	}
	if err != nil {
		return nil, s.persistenceFailure("fetch order failed", err)
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, page, pageSize int) (*OrderPage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	orders, total, err := s.ledger.ListOrders(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, s.persistenceFailure("list orders failed", err)
	}
	return &OrderPage{
		Orders:   orders,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Pages:    (total + pageSize - 1) / pageSize,
	}, nil
}

func (s *OrderService) persistenceFailure(op string, err error) error {
	s.logger.Error(op, "error", err)
	return domain.NewPersistenceError(op, err)
}

func validatePlaceOrder(req PlaceOrderRequest) error {
	var fields []domain.FieldError
	if req.UserID <= 0 {
		fields = append(fields, domain.FieldError{Field: "userId", Message: "must be a positive integer"})
	}
	if len(req.Items) == 0 {
		fields = append(fields, domain.FieldError{Field: "items", Message: "must contain at least one item"})
	}
	for i, item := range req.Items {
		if item.ArtifactID <= 0 {
			fields = append(fields, domain.FieldError{Field: fmt.Sprintf("items.%d.artifactId", i), Message: "must be a positive integer"})
		}
		switch {
		case item.Quantity <= 0:
			fields = append(fields, domain.FieldError{Field: fmt.Sprintf("items.%d.quantity", i), Message: "must be a positive integer"})
		case item.Quantity > MaxQuantity:
			fields = append(fields, domain.FieldError{Field: fmt.Sprintf("items.%d.quantity", i), Message: fmt.Sprintf("must be at most %d", MaxQuantity)})
		}
	}
	if len(fields) > 0 {
		return domain.NewValidationError(fields...)
	}
	return nil
}

// mergeLineItems sums quantities per artifact and returns the distinct ids
// in ascending order, which is also the row-lock order. Lines are already
// bounded by MaxQuantity, so a sum is checked before it can overflow.
func mergeLineItems(items []domain.LineItem) ([]int64, map[int64]int, error) {
	quantities := make(map[int64]int, len(items))
	ids := make([]int64, 0, len(items))
	for i, item := range items {
		current, seen := quantities[item.ArtifactID]
		if !seen {
			ids = append(ids, item.ArtifactID)
		}
		if item.Quantity > MaxQuantity-current {
			return nil, nil, domain.NewValidationError(domain.FieldError{
				Field:   fmt.Sprintf("items.%d.quantity", i),
				Message: fmt.Sprintf("total quantity for artifact %d must be at most %d", item.ArtifactID, MaxQuantity),
			})
		}
		quantities[item.ArtifactID] = current + item.Quantity
	}
	slices.Sort(ids)
	return ids, quantities, nil
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
