package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

func NewConnection(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return conn, nil
}

// Topology describes one consumer group: a durable queue bound to the
// shared topic exchange, plus its dead-letter side.
type Topology struct {
	Exchange      string
	Queue         string
	BindingKeys   []string
	MaxDeliveries int
}

func (t Topology) DeadLetterExchange() string {
	return t.Exchange + ".dlx"
}

func (t Topology) DeadLetterQueue() string {
	return t.Queue + ".dead"
}

func (t Topology) queueArgs() amqp.Table {
	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    t.DeadLetterExchange(),
		"x-dead-letter-routing-key": t.Queue,
	}
	if t.MaxDeliveries > 0 {
		args["x-delivery-limit"] = int64(t.MaxDeliveries)
	}
	return args
}

func DeclareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

func DeclareTopology(ch *amqp.Channel, t Topology) error {
	if err := DeclareExchange(ch, t.Exchange); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	dlx := t.DeadLetterExchange()
	if err := DeclareExchange(ch, dlx); err != nil {
		return fmt.Errorf("declare exchange %s: %w", dlx, err)
	}

	if _, err := ch.QueueDeclare(t.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.DeadLetterQueue(), err)
	}
	// Dead letters are re-keyed with the source queue name so consumer groups
	// sharing the exchange keep separate dead-letter queues.
	if err := ch.QueueBind(t.DeadLetterQueue(), t.Queue, dlx, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.DeadLetterQueue(), err)
	}

	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, t.queueArgs()); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	for _, key := range t.BindingKeys {
		if err := ch.QueueBind(t.Queue, key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", t.Queue, key, err)
		}
	}
	return nil
}
