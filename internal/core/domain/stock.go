package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockRecord is the per-(store, product) stock counter plus denormalized
// product metadata for fast reads. current_stock never goes below zero;
// the backing store enforces that with conditional writes.
type StockRecord struct {
	StoreID       string
	ProductID     string
	ProductName   string
	UnitPrice     decimal.Decimal
	CurrentStock  int
	MinStockLevel int
	MaxStockLevel int
	Active        bool
	Version       int64
	UpdatedAt     time.Time
}

// LowOnStock reports whether the record is at or below its reorder point.
// When threshold is non-nil it overrides the record's own MinStockLevel.
func (r StockRecord) LowOnStock(threshold *int) bool {
	min := r.MinStockLevel
	if threshold != nil {
		min = *threshold
	}
	return r.CurrentStock <= min
}

// ItemQuantity is one (product, quantity) pair of a reservation or release.
type ItemQuantity struct {
	ProductID string
	Quantity  int
}

// Adjustment is the committed outcome of a single conditional stock write.
type Adjustment struct {
	StoreID       string
	ProductID     string
	PreviousStock int
	NewStock      int
}

// Availability is the result of a read-only stock check.
type Availability struct {
	ProductID    string
	Available    bool
	CurrentStock int
	Shortage     int
}

// NewAvailability computes availability of required units against current stock.
func NewAvailability(productID string, currentStock, required int) Availability {
	shortage := required - currentStock
	if shortage < 0 {
		shortage = 0
	}
	return Availability{
		ProductID:    productID,
		Available:    currentStock >= required,
		CurrentStock: currentStock,
		Shortage:     shortage,
	}
}

// Shortage describes one item that could not be satisfied.
type Shortage struct {
	ProductID string
	Requested int
	Available int
	Shortage  int
}

// Summary is an aggregate snapshot of one store's inventory.
type Summary struct {
	StoreID        string
	TotalProducts  int
	TotalUnits     int
	LowStockCount  int
	InventoryValue decimal.Decimal
	GeneratedAt    time.Time
}
