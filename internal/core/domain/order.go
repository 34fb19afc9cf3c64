package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	// OrderStatusCommitted means stock is deducted and the record is durable.
	// Later transitions are owned by the order-management layer, not this core.
	OrderStatusCommitted OrderStatus = "committed"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// LineItem captures quantity and the unit price at order time. Prices are
// snapshots; later stock or price changes never alter a placed order.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Order struct {
	ID             string
	StoreID        string
	CustomerID     string
	IdempotencyKey string
	Items          []LineItem
	Total          decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
}

// NewOrder assembles a committed order with a fresh id and computed total.
func NewOrder(storeID, customerID, idempotencyKey string, items []LineItem, now time.Time) Order {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Subtotal())
	}
	return Order{
		ID:             uuid.NewString(),
		StoreID:        storeID,
		CustomerID:     customerID,
		IdempotencyKey: idempotencyKey,
		Items:          items,
		Total:          total,
		Status:         OrderStatusCommitted,
		CreatedAt:      now,
	}
}

// Quantities projects the order's line items into reservation input.
func (o Order) Quantities() []ItemQuantity {
	out := make([]ItemQuantity, 0, len(o.Items))
	for _, li := range o.Items {
		out = append(out, ItemQuantity{ProductID: li.ProductID, Quantity: li.Quantity})
	}
	return out
}
