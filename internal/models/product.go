package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Stock is owned by the catalog; orders only take from it.
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
}
