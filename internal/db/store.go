// Package db is the persistence gateway for bookings and payments. All payment
// writes go through CreatePayment and TransitionPayment, which run in a single
// transaction each and guard on the row's current status.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed persistence gateway.
type Store struct {
	*Queries
	Pool *pgxpool.Pool
}

// NewStore returns a Store using pool for both reads and transactions.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Queries: New(pool), Pool: pool}
}

func (s *Store) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreatePayment inserts a PENDING payment together with its first audit event.
// A second active payment for the same booking yields ErrDuplicatePayment.
func (s *Store) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	var created Payment
	err := s.inTx(ctx, func(q *Queries) error {
		p, err := q.insertPayment(ctx, arg)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicatePayment
			}
			return err
		}
		if err := q.insertPaymentEvent(ctx, p.ID, "", PaymentStatusPENDING, "create_order", arg.Payload); err != nil {
			return err
		}
		created = p
		return nil
	})
	return created, err
}

// TransitionPayment moves a payment from arg.From to arg.To and the linked
// booking from arg.BookingFrom to arg.BookingTo in one transaction. If the
// payment is no longer in arg.From nothing is written and the result carries
// Applied=false with the current row. A booking that has already left
// arg.BookingFrom is left alone and reported through BookingApplied.
func (s *Store) TransitionPayment(ctx context.Context, arg TransitionParams) (TransitionResult, error) {
	id, err := parseID(arg.PaymentID)
	if err != nil {
		return TransitionResult{}, err
	}
	var res TransitionResult
	err = s.inTx(ctx, func(q *Queries) error {
		updated, err := q.transitionPaymentRow(ctx, id, arg)
		if err != nil {
			if !IsNotFound(err) {
				return err
			}
			current, getErr := q.GetPayment(ctx, arg.PaymentID)
			if getErr != nil {
				return getErr
			}
			booking, getErr := q.GetBooking(ctx, current.BookingID)
			if getErr != nil {
				return getErr
			}
			res = TransitionResult{Payment: current, BookingStatus: booking.Status}
			return nil
		}
		res.Applied = true
		res.Payment = updated
		if arg.BookingTo != "" {
			applied, status, err := q.transitionBookingRow(ctx, updated.BookingID, arg.BookingFrom, arg.BookingTo)
			if err != nil {
				return err
			}
			res.BookingApplied = applied
			res.BookingStatus = status
		}
		return q.insertPaymentEvent(ctx, updated.ID, string(arg.From), arg.To, arg.Source, arg.Payload)
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return res, nil
}

// Ping checks database connectivity within timeout.
func (s *Store) Ping(ctx context.Context, timeout time.Duration) error {
	if s == nil || s.Pool == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Pool.Ping(ctx)
}
