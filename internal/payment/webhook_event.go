package payment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Webhook event types the engine acts on.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
	EventRefundProcessed = "refund.processed"
)

// WebhookEvent is one parsed provider notification. The concrete type is one
// of PaymentCaptured, PaymentFailed, OrderPaid, RefundProcessed or
// UnknownEvent.
type WebhookEvent interface {
	EventType() string
	// OrderID is the provider order the event refers to, empty when unknown.
	OrderID() string
	isWebhookEvent()
}

// PaymentCaptured reports that the provider captured a payment.
type PaymentCaptured struct {
	Payment RemotePayment
}

// PaymentFailed reports a failed payment attempt.
type PaymentFailed struct {
	Payment RemotePayment
}

// OrderPaid reports that an order has been paid in full.
type OrderPaid struct {
	Order      RemoteOrder
	AmountPaid int64
	Payment    RemotePayment
}

// RefundProcessed reports a refund the provider has settled, whether it was
// issued through this service or from the provider dashboard.
type RefundProcessed struct {
	Refund  RemoteRefund
	Payment RemotePayment
}

// UnknownEvent carries an event type the engine does not handle.
type UnknownEvent struct {
	Type    string
	Payload json.RawMessage
}

func (PaymentCaptured) EventType() string { return EventPaymentCaptured }
func (PaymentFailed) EventType() string   { return EventPaymentFailed }
func (OrderPaid) EventType() string       { return EventOrderPaid }
func (RefundProcessed) EventType() string { return EventRefundProcessed }
func (e UnknownEvent) EventType() string  { return e.Type }

func (PaymentCaptured) isWebhookEvent() {}
func (PaymentFailed) isWebhookEvent()   {}
func (OrderPaid) isWebhookEvent()       {}
func (RefundProcessed) isWebhookEvent() {}
func (UnknownEvent) isWebhookEvent()    {}

func (e PaymentCaptured) OrderID() string { return e.Payment.OrderID }
func (e PaymentFailed) OrderID() string   { return e.Payment.OrderID }
func (e OrderPaid) OrderID() string       { return e.Order.ID }
func (e RefundProcessed) OrderID() string { return e.Payment.OrderID }
func (UnknownEvent) OrderID() string      { return "" }

// ErrMalformedEvent marks a signed body that does not decode into the
// envelope or lacks the entity its event type requires.
var ErrMalformedEvent = errors.New("payment: malformed webhook event")

type webhookEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type entityPayload struct {
	Payment *struct {
		Entity rzpPayment `json:"entity"`
	} `json:"payment"`
	Order *struct {
		Entity struct {
			rzpOrder
			AmountPaid int64 `json:"amount_paid"`
		} `json:"entity"`
	} `json:"order"`
	Refund *struct {
		Entity rzpRefund `json:"entity"`
	} `json:"refund"`
}

// ParseWebhookEvent decodes a provider webhook body of the form
// {"event": "...", "payload": {"payment": {"entity": {...}}, ...}}.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}
	switch env.Event {
	case EventPaymentCaptured, EventPaymentFailed, EventOrderPaid, EventRefundProcessed:
	default:
		return UnknownEvent{Type: env.Event, Payload: env.Payload}, nil
	}

	var p entityPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEvent, env.Event, err)
		}
	}
	var payment RemotePayment
	if p.Payment != nil {
		payment = p.Payment.Entity.remote()
	}

	switch env.Event {
	case EventPaymentCaptured, EventPaymentFailed:
		if payment.ID == "" || payment.OrderID == "" {
			return nil, fmt.Errorf("%w: %s without payment entity", ErrMalformedEvent, env.Event)
		}
		if env.Event == EventPaymentCaptured {
			return PaymentCaptured{Payment: payment}, nil
		}
		return PaymentFailed{Payment: payment}, nil
	case EventOrderPaid:
		if p.Order == nil || p.Order.Entity.ID == "" {
			return nil, fmt.Errorf("%w: order.paid without order entity", ErrMalformedEvent)
		}
		o := p.Order.Entity
		return OrderPaid{
			Order:      RemoteOrder{ID: o.ID, AmountMinor: o.Amount, Currency: o.Currency, Receipt: o.Receipt, Status: o.Status},
			AmountPaid: o.AmountPaid,
			Payment:    payment,
		}, nil
	default:
		if p.Refund == nil || p.Refund.Entity.ID == "" || payment.OrderID == "" {
			return nil, fmt.Errorf("%w: refund.processed without refund and payment entities", ErrMalformedEvent)
		}
		r := p.Refund.Entity
		return RefundProcessed{
			Refund:  RemoteRefund{ID: r.ID, PaymentID: r.PaymentID, AmountMinor: r.Amount, Status: r.Status},
			Payment: payment,
		}, nil
	}
}
