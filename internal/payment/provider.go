package payment

import (
	"context"
	"errors"
	"fmt"
)

// OrderRequest asks the provider to open an order the client will pay.
type OrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// RemoteOrder is the provider's view of an order.
type RemoteOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
}

// Remote payment statuses reported by the provider.
const (
	RemoteStatusCreated    = "created"
	RemoteStatusAuthorized = "authorized"
	RemoteStatusCaptured   = "captured"
	RemoteStatusFailed     = "failed"
	RemoteStatusRefunded   = "refunded"
)

// RemotePayment is the provider's authoritative record of a payment attempt.
type RemotePayment struct {
	ID          string
	OrderID     string
	AmountMinor int64
	Currency    string
	Status      string
	ErrorReason string
}

// Captured reports whether the provider holds the funds.
func (p RemotePayment) Captured() bool {
	return p.Status == RemoteStatusCaptured || p.Status == RemoteStatusRefunded
}

// RemoteRefund is the provider's record of a refund.
type RemoteRefund struct {
	ID          string
	PaymentID   string
	AmountMinor int64
	Status      string
}

// Gateway is the thin synchronous client for the payment provider's API. It
// holds no business logic.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (RemoteOrder, error)
	FetchPayment(ctx context.Context, remotePaymentID string) (RemotePayment, error)
	FetchOrderPayments(ctx context.Context, remoteOrderID string) ([]RemotePayment, error)
	// CreateRefund refunds amountMinor, or the full captured amount when nil.
	CreateRefund(ctx context.Context, remotePaymentID string, amountMinor *int64, notes map[string]string) (RemoteRefund, error)
}

// ProviderError is a request the provider understood and rejected (4xx).
type ProviderError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider rejected request with status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider rejected request (%s): %s", e.Code, e.Description)
}

// IsProviderRejection reports whether err is a 4xx answer from the provider,
// as opposed to the provider being unreachable.
func IsProviderRejection(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
