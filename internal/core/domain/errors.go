package domain

import "errors"

var (
	// ErrVariantNotFound is returned when the requested variant does not exist.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrVariantInactive is returned when the variant exists but is not purchasable.
	ErrVariantInactive = errors.New("variant is not active")
	// ErrOutOfStock is returned when no stock is available for the variant.
	ErrOutOfStock = errors.New("no stock available for this service variant")
	// ErrLockTimeout is returned when the variant lock could not be acquired
	// within the wait bound. Transient; distinct from out of stock.
	ErrLockTimeout = errors.New("variant lock acquisition timed out")
	// ErrOrderNotFound is returned for unknown or spoofed order references.
	ErrOrderNotFound = errors.New("order not found")
	// ErrAmountMismatch is returned when a gateway-reported amount does not
	// equal the order's stored total.
	ErrAmountMismatch = errors.New("reported amount does not match order total")
	// ErrInvalidReference is returned for malformed transaction references.
	ErrInvalidReference = errors.New("invalid transaction reference")
	// ErrInvalidTransition is returned when an explicit lifecycle operation
	// is not permitted from the order's current status.
	ErrInvalidTransition = errors.New("status transition not allowed")
)
