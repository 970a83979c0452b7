package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vibast-solutions/ms-go-mailer/app/dto"
)

// Publisher is satisfied by *amqp.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type EmailProducer struct {
	publisher Publisher
	queue     string
	newID     func() string
	now       func() time.Time
}

// NewEmailProducer publishes to queue through the default exchange.
func NewEmailProducer(publisher Publisher, queue string) *EmailProducer {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &EmailProducer{
		publisher: publisher,
		queue:     queue,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Publish enqueues a request as a persistent JSON message and returns its message id.
func (p *EmailProducer) Publish(ctx context.Context, req dto.NotificationRequest) (string, error) {
	body, err := req.Encode()
	if err != nil {
		return "", err
	}

	messageID := p.newID()
	err = p.publisher.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    p.now().UTC(),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return messageID, nil
}
