package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MemoryStore is an in-process implementation of the persistence gateway with
// the same guarded-transition semantics as Store. It backs local development
// and tests.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	bookings map[string]Booking
	payments map[string]Payment
	events   []PaymentEvent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		bookings: make(map[string]Booking),
		payments: make(map[string]Payment),
	}
}

// PutBooking inserts or replaces a booking. Bookings are created outside the
// payment flow, so this is the seeding hook.
func (m *MemoryStore) PutBooking(b Booking) Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := m.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	m.bookings[b.ID] = b
	return b
}

// SetBookingStatus mimics the booking flow's own guarded transition (expiry,
// user cancellation). It returns false when the booking is not in from.
func (m *MemoryStore) SetBookingStatus(id string, from, to BookingStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return false
	}
	b.Status = to
	b.UpdatedAt = m.now()
	m.bookings[id] = b
	return true
}

// BackdatePayment shifts a payment's creation time, for age-based reconciliation.
func (m *MemoryStore) BackdatePayment(id string, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[id]; ok {
		p.CreatedAt = p.CreatedAt.Add(-by)
		m.payments[id] = p
	}
}

// PaymentCount returns the number of payment rows recorded for a booking.
func (m *MemoryStore) PaymentCount(bookingID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.BookingID == bookingID {
			n++
		}
	}
	return n
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[strings.TrimSpace(id)]
	if !ok {
		return Booking{}, pgx.ErrNoRows
	}
	return b, nil
}

func (m *MemoryStore) GetPayment(_ context.Context, id string) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[strings.TrimSpace(id)]
	if !ok {
		return Payment{}, pgx.ErrNoRows
	}
	return p, nil
}

func (m *MemoryStore) GetActivePaymentByBooking(_ context.Context, bookingID string) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.activePaymentLocked(bookingID); ok {
		return p, nil
	}
	return Payment{}, pgx.ErrNoRows
}

func (m *MemoryStore) GetLatestPaymentByBooking(_ context.Context, bookingID string) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		latest Payment
		found  bool
	)
	for _, p := range m.payments {
		if p.BookingID == bookingID && (!found || p.CreatedAt.After(latest.CreatedAt)) {
			latest, found = p, true
		}
	}
	if !found {
		return Payment{}, pgx.ErrNoRows
	}
	return latest, nil
}

func (m *MemoryStore) GetPaymentByProviderReference(_ context.Context, ref string) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref = strings.TrimSpace(ref)
	for _, p := range m.payments {
		if p.ProviderReference == ref {
			return p, nil
		}
	}
	return Payment{}, pgx.ErrNoRows
}

func (m *MemoryStore) ListPendingPaymentsBefore(_ context.Context, cutoff time.Time, limit int) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []Payment
	for _, p := range m.payments {
		if p.Status == PaymentStatusPENDING && p.CreatedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPaymentEvents(_ context.Context, paymentID string) ([]PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PaymentEvent
	for _, ev := range m.events {
		if ev.PaymentID == paymentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreatePayment(_ context.Context, arg CreatePaymentParams) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[arg.BookingID]; !ok {
		return Payment{}, pgx.ErrNoRows
	}
	if _, exists := m.activePaymentLocked(arg.BookingID); exists {
		return Payment{}, ErrDuplicatePayment
	}
	for _, p := range m.payments {
		if p.ProviderReference == arg.ProviderReference {
			return Payment{}, ErrDuplicatePayment
		}
	}
	now := m.now()
	p := Payment{
		ID:                uuid.NewString(),
		BookingID:         arg.BookingID,
		Amount:            arg.Amount,
		Currency:          arg.Currency,
		Provider:          arg.Provider,
		ProviderReference: arg.ProviderReference,
		Receipt:           arg.Receipt,
		Status:            PaymentStatusPENDING,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.payments[p.ID] = p
	m.appendEventLocked(p.ID, "", PaymentStatusPENDING, "create_order", arg.Payload)
	return p, nil
}

func (m *MemoryStore) TransitionPayment(_ context.Context, arg TransitionParams) (TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[arg.PaymentID]
	if !ok {
		return TransitionResult{}, pgx.ErrNoRows
	}
	b := m.bookings[p.BookingID]
	if p.Status != arg.From {
		return TransitionResult{Payment: p, BookingStatus: b.Status}, nil
	}
	p.Status = arg.To
	if arg.ProviderPaymentID != "" {
		p.ProviderPaymentID = arg.ProviderPaymentID
	}
	if arg.RefundReference != "" {
		p.RefundReference = arg.RefundReference
	}
	if arg.RefundedAmount.Valid {
		p.RefundedAmount = arg.RefundedAmount
	}
	p.UpdatedAt = m.now()
	m.payments[p.ID] = p

	res := TransitionResult{Applied: true, Payment: p, BookingStatus: b.Status}
	if arg.BookingTo != "" && b.Status == arg.BookingFrom {
		b.Status = arg.BookingTo
		b.UpdatedAt = p.UpdatedAt
		m.bookings[b.ID] = b
		res.BookingApplied = true
		res.BookingStatus = b.Status
	}
	m.appendEventLocked(p.ID, string(arg.From), arg.To, arg.Source, arg.Payload)
	return res, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context, time.Duration) error { return nil }

func (m *MemoryStore) activePaymentLocked(bookingID string) (Payment, bool) {
	for _, p := range m.payments {
		if p.BookingID == bookingID && p.Status != PaymentStatusFAILED {
			return p, true
		}
	}
	return Payment{}, false
}

func (m *MemoryStore) appendEventLocked(paymentID, from string, to PaymentStatus, source string, payload []byte) {
	m.events = append(m.events, PaymentEvent{
		ID:         uuid.NewString(),
		PaymentID:  paymentID,
		FromStatus: from,
		ToStatus:   to,
		Source:     source,
		Payload:    payloadOrEmpty(payload),
		CreatedAt:  m.now(),
	})
}
