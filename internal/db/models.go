package db

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus enumerates the lifecycle states of a booking.
type BookingStatus string

const (
	BookingStatusPENDING   BookingStatus = "PENDING"
	BookingStatusCONFIRMED BookingStatus = "CONFIRMED"
	BookingStatusCANCELLED BookingStatus = "CANCELLED"
	BookingStatusCOMPLETED BookingStatus = "COMPLETED"
)

// PaymentStatus enumerates the lifecycle states of a payment. Statuses only
// move forward: PENDING -> SUCCEEDED|FAILED, SUCCEEDED -> REFUNDED.
type PaymentStatus string

const (
	PaymentStatusPENDING   PaymentStatus = "PENDING"
	PaymentStatusSUCCEEDED PaymentStatus = "SUCCEEDED"
	PaymentStatusFAILED    PaymentStatus = "FAILED"
	PaymentStatusREFUNDED  PaymentStatus = "REFUNDED"
)

// Terminal reports whether the status has no outgoing transitions.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusFAILED || s == PaymentStatusREFUNDED
}

// Booking is a reserved court slot.
type Booking struct {
	ID        string
	UserID    string
	CourtID   string
	StartTime time.Time
	EndTime   time.Time
	Price     decimal.Decimal
	Status    BookingStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment is the local record of a provider order for a booking.
type Payment struct {
	ID                string
	BookingID         string
	Amount            decimal.Decimal
	Currency          string
	Provider          string
	ProviderReference string
	ProviderPaymentID string
	Receipt           string
	RefundReference   string
	RefundedAmount    decimal.NullDecimal
	Status            PaymentStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentEvent is one row of the payment audit trail.
type PaymentEvent struct {
	ID         string
	PaymentID  string
	FromStatus string
	ToStatus   PaymentStatus
	Source     string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// CreatePaymentParams holds the values of a new PENDING payment.
type CreatePaymentParams struct {
	BookingID         string
	Amount            decimal.Decimal
	Currency          string
	Provider          string
	ProviderReference string
	Receipt           string
	Payload           json.RawMessage
}

// TransitionParams describes a guarded payment transition and the booking
// transition that accompanies it.
type TransitionParams struct {
	PaymentID   string
	From        PaymentStatus
	To          PaymentStatus
	BookingFrom BookingStatus
	BookingTo   BookingStatus
	// Source names the signal that caused the transition (verify, webhook, refund, reconcile).
	Source            string
	ProviderPaymentID string
	RefundReference   string
	RefundedAmount    decimal.NullDecimal
	Payload           json.RawMessage
}

// TransitionResult reports what a TransitionPayment call did. When Applied is
// false another writer already moved the payment and Payment holds its current state.
type TransitionResult struct {
	Applied        bool
	BookingApplied bool
	Payment        Payment
	BookingStatus  BookingStatus
}
