package orders

import "errors"

var (
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyProductName  = errors.New("product name is empty after cleaning")
	ErrNoProductMatch    = errors.New("no product matched")
	ErrNoMatchingOrder   = errors.New("no order contains the product")
	ErrInvalidItems      = errors.New("invalid item list")
	ErrCustomerForbidden = errors.New("tools may only act on the authenticated customer")
)
