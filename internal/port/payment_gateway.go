package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// SessionRequest carries what the hosted payment page needs. TranID is
// the external order reference (txn_<public token>); internal ids never
// reach the gateway.
type SessionRequest struct {
	TranID      string
	Amount      decimal.Decimal
	Currency    string
	CustomerID  string
	ProductName string
	SuccessURL  string
	FailURL     string
	CancelURL   string
}

type PaymentGateway interface {
	// CreateSession opens a hosted payment session and returns the URL
	// the customer is redirected to. The gateway is a black box: either
	// a redirect URL or an error, nothing else is interpreted.
	CreateSession(ctx context.Context, req SessionRequest) (string, error)
}
