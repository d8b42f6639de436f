package cartsync

import (
	"errors"
	"fmt"

	"github.com/fjod/go_cart/food-cart/pkg/circuitbreaker"
)

// Validation failures are raised before any request is made and never retried.
var (
	ErrValidation        = errors.New("cart sync validation failed")
	ErrEmptyCart         = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrMissingRestaurant = fmt.Errorf("%w: cart has no restaurant", ErrValidation)
	ErrMissingCustomer   = fmt.Errorf("%w: no authenticated customer", ErrValidation)
)

var (
	ErrMalformedPayload = errors.New("malformed server cart payload")
	ErrCircuitOpen      = circuitbreaker.ErrOpen
)

// NetworkError is returned once every attempt failed. Err is the last failure.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("cart sync failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
