package events

// Topics emitted by the payment reconciliation engine.
const (
	TopicPaymentSucceeded = "payment.succeeded"
	TopicPaymentFailed    = "payment.failed"
	TopicPaymentRefunded  = "payment.refunded"
	TopicBookingConfirmed = "booking.confirmed"
	TopicBookingCancelled = "booking.cancelled"
)

// DefaultTopics returns every topic the engine can emit.
func DefaultTopics() []string {
	return []string{
		TopicPaymentSucceeded,
		TopicPaymentFailed,
		TopicPaymentRefunded,
		TopicBookingConfirmed,
		TopicBookingCancelled,
	}
}
