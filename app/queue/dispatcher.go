package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/dto"
	"github.com/vibast-solutions/ms-go-mailer/app/service"
)

// Relay turns a decoded request into an email and transmits it.
type Relay interface {
	Send(ctx context.Context, req dto.NotificationRequest) (service.SendResult, error)
}

type DispatcherConfig struct {
	Queue        string
	ConsumerName string
	Workers      int
	Prefetch     int
	// NackRequeue puts rejected deliveries back on the queue instead of
	// dropping or dead-lettering them.
	NackRequeue        bool
	DeclareQueue       bool
	DeadLetterExchange string
	// RequeueDelay is how long a worker holds a delivery whose message id is
	// locked elsewhere before handing it back to the queue.
	RequeueDelay time.Duration
}

// OutcomeHook observes every settled delivery.
type OutcomeHook func(outcome Outcome, elapsed time.Duration)

// Dispatcher consumes the email queue with a fixed pool of workers. Each
// worker owns one channel and sees at most Prefetch unacknowledged deliveries.
type Dispatcher struct {
	conn   Connection
	relay  Relay
	cfg    DispatcherConfig
	logger logrus.FieldLogger
	hook   OutcomeHook
}

// NewDispatcher fills in defaults for a zero config.
func NewDispatcher(conn Connection, relay Relay, cfg DispatcherConfig, logger logrus.FieldLogger, hook OutcomeHook) *Dispatcher {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueueName
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "mailer-" + uuid.NewString()[:8]
	}
	return &Dispatcher{
		conn:   conn,
		relay:  relay,
		cfg:    cfg,
		logger: logger,
		hook:   hook,
	}
}

type worker struct {
	id         int
	tag        string
	channel    Channel
	deliveries <-chan amqp.Delivery
}

// Run subscribes every worker and blocks until all delivery streams end.
// Cancelling ctx cancels the consumers; in-flight deliveries are still
// processed and settled before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	workers, err := d.subscribe()
	if err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"queue":    d.cfg.Queue,
		"workers":  len(workers),
		"prefetch": d.cfg.Prefetch,
	}).Info("Dispatcher started")

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			for _, w := range workers {
				if err := w.channel.Cancel(w.tag, false); err != nil {
					d.logger.WithError(err).WithField("consumer", w.tag).Warn("Failed to cancel consumer")
				}
			}
		case <-done:
		}
	}()

	// Deliveries already received are finished even after cancellation.
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w worker) {
			defer wg.Done()
			d.consume(workCtx, w)
		}(w)
	}
	wg.Wait()
	close(done)

	var closeErr error
	for _, w := range workers {
		if err := w.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if closeErr != nil {
		d.logger.WithError(closeErr).Warn("Failed to close channels")
	}

	d.logger.Info("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) subscribe() ([]worker, error) {
	workers := make([]worker, 0, d.cfg.Workers)
	fail := func(err error) ([]worker, error) {
		for _, w := range workers {
			_ = w.channel.Close()
		}
		return nil, err
	}

	for i := 0; i < d.cfg.Workers; i++ {
		ch, err := d.conn.Channel()
		if err != nil {
			return fail(fmt.Errorf("open channel: %w", err))
		}
		w := worker{id: i, tag: fmt.Sprintf("%s-%d", d.cfg.ConsumerName, i), channel: ch}

		if err := ch.Qos(d.cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return fail(fmt.Errorf("set prefetch: %w", err))
		}
		if i == 0 && d.cfg.DeclareQueue {
			if err := d.declare(ch); err != nil {
				_ = ch.Close()
				return fail(err)
			}
		}
		deliveries, err := ch.Consume(d.cfg.Queue, w.tag, false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			return fail(fmt.Errorf("consume %s: %w", d.cfg.Queue, err))
		}
		w.deliveries = deliveries
		workers = append(workers, w)
	}
	return workers, nil
}

func (d *Dispatcher) declare(ch Channel) error {
	var args amqp.Table
	if d.cfg.DeadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": d.cfg.DeadLetterExchange}
	}
	if _, err := ch.QueueDeclare(d.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare %s: %w", d.cfg.Queue, err)
	}
	return nil
}

func (d *Dispatcher) consume(ctx context.Context, w worker) {
	log := d.logger.WithFields(logrus.Fields{"worker_id": w.id, "consumer": w.tag})
	log.Info("Worker started")
	for delivery := range w.deliveries {
		d.handle(ctx, log, delivery)
	}
	log.Info("Delivery stream closed, worker stopped")
}

func (d *Dispatcher) handle(ctx context.Context, log logrus.FieldLogger, delivery amqp.Delivery) {
	if delivery.Acknowledger == nil {
		log.Error("No delivery")
		return
	}

	start := time.Now()
	log = log.WithFields(logrus.Fields{
		"delivery_tag": delivery.DeliveryTag,
		"message_id":   delivery.MessageId,
		"redelivered":  delivery.Redelivered,
	})

	outcome := d.process(ctx, log, delivery)
	d.settle(log, delivery, outcome)
	if d.hook != nil {
		d.hook(outcome, time.Since(start))
	}
}

func (d *Dispatcher) process(ctx context.Context, log logrus.FieldLogger, delivery amqp.Delivery) Outcome {
	req, err := dto.DecodeNotification(delivery.Body)
	if err != nil {
		log.WithError(err).Error("Processing message failed")
		return OutcomeMalformed
	}

	result, err := d.relay.Send(service.WithMessageID(ctx, delivery.MessageId), req)
	switch {
	case errors.Is(err, service.ErrMessageLocked):
		log.WithError(err).Info("Message is locked, returning it to the queue")
		return OutcomeLocked
	case err != nil:
		log.WithError(err).Error("Processing message failed")
		return OutcomeRejected
	}

	switch {
	case result.TransportErr != nil:
		log.WithError(result.TransportErr).Warn("Acknowledging message after failed transmission")
		return OutcomeTransportFailure
	case result.Duplicate:
		return OutcomeDuplicate
	}
	return OutcomeDelivered
}

func (d *Dispatcher) settle(log logrus.FieldLogger, delivery amqp.Delivery, outcome Outcome) {
	if outcome.Acked() {
		if err := delivery.Ack(false); err != nil {
			log.WithError(err).Error("Failed to ack message")
		}
		return
	}
	requeue := d.cfg.NackRequeue
	if outcome == OutcomeLocked {
		requeue = true
		if d.cfg.RequeueDelay > 0 {
			time.Sleep(d.cfg.RequeueDelay)
		}
	}
	if err := delivery.Nack(false, requeue); err != nil {
		log.WithError(err).Error("Failed to nack message")
	}
}
