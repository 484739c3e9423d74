package payment

import (
	"net/http"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/money"
)

// Error taxonomy of the reconciliation engine. Each value matches wrapped
// copies of itself through errors.Is.
var (
	ErrInvalidAmount        = money.ErrInvalidAmount
	ErrBookingNotEligible   = common.NewAppError("BOOKING_NOT_ELIGIBLE", "booking is not eligible for payment", http.StatusNotFound, nil)
	ErrPaymentAlreadyExists = common.NewAppError("PAYMENT_ALREADY_EXISTS", "a payment already exists for this booking", http.StatusBadRequest, nil)
	ErrInvalidSignature     = common.NewAppError("INVALID_SIGNATURE", "invalid signature", http.StatusBadRequest, nil)
	ErrOrderMismatch        = common.NewAppError("ORDER_MISMATCH", "order does not match the booking payment", http.StatusBadRequest, nil)
	ErrAmountMismatch       = common.NewAppError("AMOUNT_MISMATCH", "paid amount does not match the booking payment", http.StatusBadRequest, nil)
	ErrNotFound             = common.NewAppError("NOT_FOUND", "not found", http.StatusNotFound, nil)
	ErrTooLateToRefund      = common.NewAppError("TOO_LATE_TO_REFUND", "booking has already started", http.StatusBadRequest, nil)
	ErrNoProviderReference  = common.NewAppError("NO_PROVIDER_REFERENCE", "payment has no captured provider payment", http.StatusBadRequest, nil)
	ErrRefundProviderError  = common.NewAppError("REFUND_PROVIDER_ERROR", "refund was rejected by the payment provider", http.StatusBadGateway, nil)
	ErrRefundInProgress     = common.NewAppError("REFUND_IN_PROGRESS", "a refund is already in progress for this payment", http.StatusConflict, nil)
	ErrRefundConflict       = common.NewAppError("REFUND_CONFLICT", "payment changed while the refund was issued", http.StatusConflict, nil)
	ErrWebhookInFlight      = common.NewAppError("WEBHOOK_IN_FLIGHT", "webhook delivery is already being processed", http.StatusConflict, nil)
	ErrProviderUnavailable  = common.NewAppError("PROVIDER_UNAVAILABLE", "payment provider unavailable, retry later", http.StatusBadGateway, nil)
)
