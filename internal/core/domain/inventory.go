package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Artifact is a sellable handcrafted item. Stock never goes negative.
type Artifact struct {
	ID          int64
	Title       string
	Description string
	Price       decimal.Decimal
	Stock       int
	SellerID    int64
	CategoryID  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Category struct {
	ID   int64
	Name string
}
