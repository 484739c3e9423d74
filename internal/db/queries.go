package db

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries runs single statements against a connection or transaction.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const bookingColumns = `id::text, user_id::text, court_id::text, start_time, end_time, price, status, created_at, updated_at`

const paymentColumns = `id::text, booking_id::text, amount, currency, provider, provider_reference,
	coalesce(provider_payment_id, ''), receipt, coalesce(refund_reference, ''), refunded_amount,
	status, created_at, updated_at`

func scanBooking(row pgx.Row) (Booking, error) {
	var (
		b      Booking
		price  pgtype.Numeric
		status string
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.CourtID, &b.StartTime, &b.EndTime, &price, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Booking{}, err
	}
	b.Price = numericToDecimal(price)
	b.Status = BookingStatus(status)
	return b, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p        Payment
		amount   pgtype.Numeric
		refunded pgtype.Numeric
		status   string
	)
	if err := row.Scan(&p.ID, &p.BookingID, &amount, &p.Currency, &p.Provider, &p.ProviderReference,
		&p.ProviderPaymentID, &p.Receipt, &p.RefundReference, &refunded, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, err
	}
	p.Amount = numericToDecimal(amount)
	if refunded.Valid {
		p.RefundedAmount = decimal.NullDecimal{Decimal: numericToDecimal(refunded), Valid: true}
	}
	p.Status = PaymentStatus(status)
	return p, nil
}

func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		// Opaque identifiers that are not UUIDs cannot match any row.
		return uuid.Nil, pgx.ErrNoRows
	}
	return parsed, nil
}

// GetBooking loads a booking by id.
func (q *Queries) GetBooking(ctx context.Context, id string) (Booking, error) {
	bookingID, err := parseID(id)
	if err != nil {
		return Booking{}, err
	}
	return scanBooking(q.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
}

// GetPayment loads a payment by id.
func (q *Queries) GetPayment(ctx context.Context, id string) (Payment, error) {
	paymentID, err := parseID(id)
	if err != nil {
		return Payment{}, err
	}
	return scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
}

// GetActivePaymentByBooking loads the booking's payment that has not failed.
func (q *Queries) GetActivePaymentByBooking(ctx context.Context, bookingID string) (Payment, error) {
	id, err := parseID(bookingID)
	if err != nil {
		return Payment{}, err
	}
	return scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 AND status <> 'FAILED'
		ORDER BY created_at DESC LIMIT 1`, id))
}

// GetLatestPaymentByBooking loads the most recent payment of a booking, failed or not.
func (q *Queries) GetLatestPaymentByBooking(ctx context.Context, bookingID string) (Payment, error) {
	id, err := parseID(bookingID)
	if err != nil {
		return Payment{}, err
	}
	return scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 ORDER BY created_at DESC LIMIT 1`, id))
}

// GetPaymentByProviderReference loads a payment by its remote order id.
func (q *Queries) GetPaymentByProviderReference(ctx context.Context, ref string) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_reference = $1`, strings.TrimSpace(ref)))
}

// ListPendingPaymentsBefore returns PENDING payments created before cutoff, oldest first.
func (q *Queries) ListPendingPaymentsBefore(ctx context.Context, cutoff time.Time, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) insertPayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	bookingID, err := parseID(arg.BookingID)
	if err != nil {
		return Payment{}, err
	}
	return scanPayment(q.db.QueryRow(ctx, `INSERT INTO payments
		(booking_id, amount, currency, provider, provider_reference, receipt, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')
		RETURNING `+paymentColumns,
		bookingID, decimalToNumeric(arg.Amount), arg.Currency, arg.Provider, arg.ProviderReference, arg.Receipt))
}

func (q *Queries) insertPaymentEvent(ctx context.Context, paymentID string, from string, to PaymentStatus, source string, payload json.RawMessage) error {
	id, err := parseID(paymentID)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `INSERT INTO payment_events (payment_id, from_status, to_status, source, payload)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)`, id, from, string(to), source, []byte(payloadOrEmpty(payload)))
	return err
}

// payloadOrEmpty normalises optional JSON payloads.
func payloadOrEmpty(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage(`{}`)
	}
	return p
}

// ListPaymentEvents returns the audit trail of a payment, oldest first.
func (q *Queries) ListPaymentEvents(ctx context.Context, paymentID string) ([]PaymentEvent, error) {
	id, err := parseID(paymentID)
	if err != nil {
		return nil, err
	}
	rows, err := q.db.Query(ctx, `SELECT id::text, payment_id::text, coalesce(from_status, ''), to_status, source, payload, created_at
		FROM payment_events WHERE payment_id = $1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentEvent
	for rows.Next() {
		var (
			ev      PaymentEvent
			to      string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.PaymentID, &ev.FromStatus, &to, &ev.Source, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.ToStatus = PaymentStatus(to)
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

// transitionPaymentRow is the guarded write: it only matches while the row is
// still in the expected status.
func (q *Queries) transitionPaymentRow(ctx context.Context, id uuid.UUID, arg TransitionParams) (Payment, error) {
	refunded := pgtype.Numeric{}
	if arg.RefundedAmount.Valid {
		refunded = decimalToNumeric(arg.RefundedAmount.Decimal)
	}
	return scanPayment(q.db.QueryRow(ctx, `UPDATE payments SET
			status = $3,
			provider_payment_id = coalesce(NULLIF($4, ''), provider_payment_id),
			refund_reference = coalesce(NULLIF($5, ''), refund_reference),
			refunded_amount = coalesce($6, refunded_amount),
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+paymentColumns,
		id, string(arg.From), string(arg.To), arg.ProviderPaymentID, arg.RefundReference, refunded))
}

func (q *Queries) transitionBookingRow(ctx context.Context, bookingID string, from, to BookingStatus) (bool, BookingStatus, error) {
	id, err := parseID(bookingID)
	if err != nil {
		return false, "", err
	}
	var status string
	err = q.db.QueryRow(ctx, `UPDATE bookings SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2 RETURNING status`, id, string(from), string(to)).Scan(&status)
	if err == nil {
		return true, BookingStatus(status), nil
	}
	if !IsNotFound(err) {
		return false, "", err
	}
	if err := q.db.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, id).Scan(&status); err != nil {
		return false, "", err
	}
	return false, BookingStatus(status), nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).Set(d.Coefficient()), Exp: d.Exponent(), Valid: true}
}
