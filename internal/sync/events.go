// Package sync routes verified platform events into the credit
// conversion pipeline and keeps the per-store sync state in order.
package sync

import (
	"fmt"
	"strconv"
	"strings"
)

// CustomerEvent is the customers/create webhook body (relevant fields).
type CustomerEvent struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

func (c CustomerEvent) CustomerID() string {
	return strconv.FormatInt(c.ID, 10)
}

// DisplayName builds the partner-side nickname, falling back to the
// email's local part.
func (c CustomerEvent) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name != "" {
		return name
	}
	return EmailLocalPart(c.Email)
}

// OrderCustomer is the customer reference embedded in an order event.
type OrderCustomer struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// OrderEvent is the orders/create webhook body (relevant fields). The
// platform sends monetary amounts as strings.
type OrderEvent struct {
	ID          int64          `json:"id"`
	OrderNumber int64          `json:"order_number"`
	Email       string         `json:"email"`
	TotalPrice  string         `json:"total_price"`
	Currency    string         `json:"currency"`
	Customer    *OrderCustomer `json:"customer"`
}

func (o OrderEvent) OrderID() string {
	return strconv.FormatInt(o.ID, 10)
}

func (o OrderEvent) OrderRef() string {
	if o.OrderNumber == 0 {
		return ""
	}
	return strconv.FormatInt(o.OrderNumber, 10)
}

// CustomerID returns the identity key for the mapping row: the
// platform customer id when the order carries one, otherwise an
// email-derived identity so guest checkouts still get a mapping.
func (o OrderEvent) CustomerID() string {
	if o.Customer != nil && o.Customer.ID != 0 {
		return strconv.FormatInt(o.Customer.ID, 10)
	}
	return fmt.Sprintf("email#%s", strings.ToLower(strings.TrimSpace(o.Email)))
}

func EmailLocalPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
