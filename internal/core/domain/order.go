package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type Order struct {
	ID          int64
	UserID      int64
	Status      OrderStatus
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
	Items       []OrderItem
}

// OrderItem is one order line. Price is the unit price captured when the
// order was placed, not the artifact's current price.
type OrderItem struct {
	ID            int64
	OrderID       int64
	ArtifactID    int64
	ArtifactTitle string
	Quantity      int
	Price         decimal.Decimal
}

// LineItem is a requested (artifact, quantity) pair before pricing.
type LineItem struct {
	ArtifactID int64
	Quantity   int
}
