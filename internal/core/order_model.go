package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderCreated   = "created"
	OrderBooked    = "booked"
	OrderCancelled = "cancelled"
)

// OrderItem is one line on an order, stored as JSONB.
type OrderItem struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is a seller's sales order awaiting fulfillment. Once a shipment exists
// the order is immutable except for its status.
//
// TotalBaseAmount mirrors TotalAmount in the company's base currency and is
// required for non-base-currency orders: COD and declared-value amounts
// downstream are computed in the base currency.
type Order struct {
	ID              int              `json:"id"`
	CompanyID       int              `json:"company_id"`
	OrderNumber     string           `json:"order_number"`
	CustomerName    string           `json:"customer_name"`
	CustomerPhone   string           `json:"customer_phone"`
	Address         string           `json:"address"`
	City            string           `json:"city"`
	State           string           `json:"state"`
	Pincode         string           `json:"pincode"`
	Items           []OrderItem      `json:"items"`
	Currency        string           `json:"currency"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	TotalBaseAmount *decimal.Decimal `json:"total_base_amount,omitempty"`
	PaymentMode     string           `json:"payment_mode"`
	Status          string           `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
}

// BaseTotal returns the amount downstream money logic must use: the base
// currency mirror for foreign-currency orders, TotalAmount otherwise.
func (o *Order) BaseTotal(baseCurrency string) (decimal.Decimal, error) {
	if o.Currency == baseCurrency {
		return o.TotalAmount, nil
	}
	if o.TotalBaseAmount == nil {
		return decimal.Zero, ErrMissingBaseAmount
	}
	return *o.TotalBaseAmount, nil
}
