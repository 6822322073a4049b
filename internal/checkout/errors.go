package checkout

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrPolicyNotAccepted = errors.New("the terms and privacy policy must be accepted")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrTotalsMismatch    = errors.New("order totals do not match the cart")
	ErrAlreadyPlacing    = errors.New("order is already being placed")
	ErrInvalidTransition = errors.New("invalid checkout transition")
	ErrAttemptConflict   = errors.New("attempt key already holds a different order")
)

// ValidationError lists customer fields that failed validation, keyed by
// field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid customer details: " + strings.Join(parts, ", ")
}

// IsValidation reports whether err should be shown to the customer as a
// correctable input problem. Nothing was written when it is.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrPolicyNotAccepted) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrTotalsMismatch)
}

type Stage string

const (
	StageOrder Stage = "order"
	StageItems Stage = "items"
)

const placementFailedMessage = "We could not place your order. Your cart has not been charged or cleared; please try again."

// PlacementError reports a persistence failure. Its message is the only text
// shown to the customer; the cause is kept for logs.
type PlacementError struct {
	Stage     Stage
	Retryable bool
	Err       error
}

func (e *PlacementError) Error() string {
	return placementFailedMessage
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

func (e *PlacementError) Detail() string {
	return fmt.Sprintf("persist %s: %v", e.Stage, e.Err)
}
