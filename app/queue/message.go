package queue

const DefaultQueueName = "email-queue"

const contentTypeJSON = "application/json"

// Outcome is what happened to one delivery.
type Outcome string

const (
	OutcomeDelivered        Outcome = "delivered"
	OutcomeTransportFailure Outcome = "transport_failure"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeMalformed        Outcome = "malformed"
	OutcomeRejected         Outcome = "rejected"
	OutcomeLocked           Outcome = "locked"
)

// Acked reports whether the delivery is positively acknowledged. Anything
// that was composed counts as handled, even if transmission failed. A locked
// message was not sent and is always requeued.
func (o Outcome) Acked() bool {
	switch o {
	case OutcomeDelivered, OutcomeTransportFailure, OutcomeDuplicate:
		return true
	}
	return false
}
