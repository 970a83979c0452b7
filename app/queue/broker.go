package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the dispatcher needs.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Connection hands out channels. Channels must not be shared between consumers.
type Connection interface {
	Channel() (Channel, error)
}

type AMQPConnection struct {
	*amqp.Connection
}

// Dial connects to RabbitMQ.
func Dial(url string) (*AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return &AMQPConnection{Connection: conn}, nil
}

// Channel opens a new AMQP channel on the shared connection.
func (c *AMQPConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// PublishChannel opens a channel for the producer.
func (c *AMQPConnection) PublishChannel() (*amqp.Channel, error) {
	return c.Connection.Channel()
}
