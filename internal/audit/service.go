// Package audit exposes the append-only transition history of a booking's
// payment to the booking owner.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/db"
)

// ErrNotFound hides both missing bookings and bookings owned by someone else.
var ErrNotFound = common.NewAppError("NOT_FOUND", "not found", http.StatusNotFound, nil)

// Store defines the reads required for the payment audit trail.
type Store interface {
	GetBooking(ctx context.Context, id string) (db.Booking, error)
	GetLatestPaymentByBooking(ctx context.Context, bookingID string) (db.Payment, error)
	ListPaymentEvents(ctx context.Context, paymentID string) ([]db.PaymentEvent, error)
}

// Entry is one recorded transition.
type Entry struct {
	From    string          `json:"from,omitempty"`
	To      string          `json:"to"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Trail is the history of the latest payment of a booking.
type Trail struct {
	BookingID string  `json:"bookingId"`
	PaymentID string  `json:"paymentId,omitempty"`
	Entries   []Entry `json:"entries"`
}

// Service reads audit trails.
type Service struct {
	Store   Store
	Timeout time.Duration
}

// Trail returns the transitions of the booking's latest payment, oldest first.
// A booking without payments yields an empty trail.
func (s Service) Trail(ctx context.Context, bookingID, userID string) (Trail, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	booking, err := s.Store.GetBooking(ctx, strings.TrimSpace(bookingID))
	if err != nil {
		if db.IsNotFound(err) {
			return Trail{}, ErrNotFound
		}
		return Trail{}, fmt.Errorf("load booking: %w", err)
	}
	if booking.UserID != strings.TrimSpace(userID) {
		return Trail{}, ErrNotFound
	}

	out := Trail{BookingID: booking.ID, Entries: []Entry{}}
	payment, err := s.Store.GetLatestPaymentByBooking(ctx, booking.ID)
	if err != nil {
		if db.IsNotFound(err) {
			return out, nil
		}
		return Trail{}, fmt.Errorf("load payment: %w", err)
	}
	out.PaymentID = payment.ID

	events, err := s.Store.ListPaymentEvents(ctx, payment.ID)
	if err != nil {
		return Trail{}, fmt.Errorf("list payment events: %w", err)
	}
	for _, ev := range events {
		out.Entries = append(out.Entries, Entry{
			From:    ev.FromStatus,
			To:      string(ev.ToStatus),
			Source:  ev.Source,
			Payload: compactPayload(ev.Payload),
			At:      ev.CreatedAt,
		})
	}
	return out, nil
}

// compactPayload drops empty objects so entries without context stay short.
func compactPayload(p json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(p))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return nil
	}
	return p
}
