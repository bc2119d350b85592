// Package order defines the business payload of a sales order exactly as the
// remote order collection stores it.
package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingCustomer = errors.New("order has no customer")
	ErrNoItems         = errors.New("order has no line items")
)

type Order struct {
	CustomerID      string           `json:"customer_id,omitempty"`
	CustomerName    string           `json:"customer_name,omitempty"`
	CustomerAddress string           `json:"customer_address,omitempty"`
	Items           []LineItem       `json:"items"`
	OrderDiscount   *decimal.Decimal `json:"order_discount,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

// LineItem snapshots price and cost at the time the order was taken so a later
// catalogue change does not rewrite history.
type LineItem struct {
	ProductID   string           `json:"product_id"`
	ProductName string           `json:"product_name,omitempty"`
	Quantity    int              `json:"quantity"`
	Discount    *decimal.Decimal `json:"discount,omitempty"` // percent
	Price       *decimal.Decimal `json:"price,omitempty"`
	Cost        *decimal.Decimal `json:"cost,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// Validate checks the invariants the order-editing UI relies on.
func (o Order) Validate() error {
	if o.CustomerID == "" && o.CustomerName == "" {
		return ErrMissingCustomer
	}
	if len(o.Items) == 0 {
		return ErrNoItems
	}
	for i, item := range o.Items {
		if item.ProductID == "" {
			return fmt.Errorf("item %d: missing product_id", i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive, got %d", i, item.Quantity)
		}
		if item.Discount != nil && (item.Discount.IsNegative() || item.Discount.GreaterThan(hundred)) {
			return fmt.Errorf("item %d: discount must be within 0-100", i)
		}
		if item.Price != nil && item.Price.IsNegative() {
			return fmt.Errorf("item %d: price cannot be negative", i)
		}
	}
	if o.OrderDiscount != nil && o.OrderDiscount.IsNegative() {
		return errors.New("order_discount cannot be negative")
	}
	return nil
}

// Subtotal is the sum of discounted line totals before the order-level discount.
func (o Order) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Total())
	}
	return total
}

// Total applies the order-level discount to the subtotal, never going below zero.
func (o Order) Total() decimal.Decimal {
	total := o.Subtotal()
	if o.OrderDiscount != nil {
		total = total.Sub(*o.OrderDiscount)
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Total returns quantity * price less the percentage discount.
func (li LineItem) Total() decimal.Decimal {
	if li.Price == nil {
		return decimal.Zero
	}
	gross := li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
	if li.Discount == nil {
		return gross
	}
	return gross.Sub(gross.Mul(*li.Discount).Div(hundred))
}
