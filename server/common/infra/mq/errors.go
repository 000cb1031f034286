package mq

import (
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler failure that redelivery cannot fix. The consumer
// rejects such deliveries without requeue so they land in the dead-letter queue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// DeliveryAttempt is 1 for a first delivery. Quorum queues report prior
// failed deliveries in x-delivery-count; other queues only expose the
// redelivered flag.
func DeliveryAttempt(d amqp.Delivery) int {
	if raw, ok := d.Headers["x-delivery-count"]; ok {
		switch n := raw.(type) {
		case int64:
			return int(n) + 1
		case int32:
			return int(n) + 1
		case int:
			return n + 1
		}
	}
	if d.Redelivered {
		return 2
	}
	return 1
}
