package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a purchasable configuration of a repair service. Stock
// counts simultaneously claimable units and is never negative; it is
// decremented only inside the holder of the variant's lock.
type Variant struct {
	ID        string
	ServiceID string
	VendorID  string // owning vendor, resolved through the service
	Name      string
	Price     decimal.Decimal
	Stock     int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
