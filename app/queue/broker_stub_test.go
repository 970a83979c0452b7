package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// stubBroker is an in-memory queue shared by every channel it opens. A
// channel hands out a delivery only while it has fewer than prefetch
// unacknowledged ones, the way the broker enforces basic.qos.
type stubBroker struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []amqp.Delivery
	stopped  bool
	channels []*stubChannel
	settled  chan settlement

	channelErr error
	consumeErr error
	ackErr     error
}

type settlement struct {
	messageID string
	channel   int
	acked     bool
	requeue   bool
}

func newStubBroker() *stubBroker {
	b := &stubBroker{settled: make(chan settlement, 256)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *stubBroker) publish(messageID string, body string) {
	b.mu.Lock()
	b.pending = append(b.pending, amqp.Delivery{MessageId: messageID, Body: []byte(body)})
	b.mu.Unlock()
	b.cond.Broadcast()
}

// stop ends every delivery stream, as a closed connection would.
func (b *stubBroker) stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *stubBroker) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *stubBroker) Channel() (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channelErr != nil && len(b.channels) > 0 {
		return nil, b.channelErr
	}
	ch := &stubChannel{broker: b, id: len(b.channels)}
	b.channels = append(b.channels, ch)
	return ch, nil
}

func (b *stubBroker) waitSettled(t *testing.T, n int) []settlement {
	t.Helper()
	out := make([]settlement, 0, n)
	for len(out) < n {
		select {
		case s := <-b.settled:
			out = append(out, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("expected %d settled deliveries, got %d", n, len(out))
		}
	}
	return out
}

type stubChannel struct {
	broker *stubBroker
	id     int

	prefetch   int
	qos        []int
	declared   []amqp.Table
	queue      string
	consumer   string
	autoAck    bool
	nextTag    uint64
	unacked    int
	maxUnacked int
	delivered  int
	cancelled  bool
	closed     bool
}

func (c *stubChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.prefetch = prefetchCount
	c.qos = append(c.qos, prefetchCount)
	return nil
}

func (c *stubChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.declared = append(c.declared, args)
	return amqp.Queue{Name: name}, nil
}

func (c *stubChannel) Consume(queue, consumer string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	b := c.broker
	b.mu.Lock()
	if b.consumeErr != nil && c.id > 0 {
		b.mu.Unlock()
		return nil, b.consumeErr
	}
	c.queue = queue
	c.consumer = consumer
	c.autoAck = autoAck
	b.mu.Unlock()

	out := make(chan amqp.Delivery)
	go c.pump(out)
	return out, nil
}

func (c *stubChannel) pump(out chan<- amqp.Delivery) {
	b := c.broker
	defer close(out)
	for {
		b.mu.Lock()
		for !b.stopped && !c.cancelled && !c.closed && (len(b.pending) == 0 || (c.prefetch > 0 && c.unacked >= c.prefetch)) {
			b.cond.Wait()
		}
		if b.stopped || c.cancelled || c.closed {
			b.mu.Unlock()
			return
		}
		d := b.pending[0]
		b.pending = b.pending[1:]
		c.nextTag++
		c.unacked++
		c.delivered++
		if c.unacked > c.maxUnacked {
			c.maxUnacked = c.unacked
		}
		d.DeliveryTag = c.nextTag
		d.Acknowledger = &stubAcknowledger{channel: c, messageID: d.MessageId}
		b.mu.Unlock()
		out <- d
	}
}

func (c *stubChannel) Cancel(_ string, _ bool) error {
	c.broker.mu.Lock()
	c.cancelled = true
	c.broker.mu.Unlock()
	c.broker.cond.Broadcast()
	return nil
}

func (c *stubChannel) Close() error {
	c.broker.mu.Lock()
	c.closed = true
	c.broker.mu.Unlock()
	c.broker.cond.Broadcast()
	return nil
}

func (c *stubChannel) snapshot() stubChannel {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return stubChannel{
		id:         c.id,
		qos:        append([]int(nil), c.qos...),
		declared:   append([]amqp.Table(nil), c.declared...),
		queue:      c.queue,
		consumer:   c.consumer,
		autoAck:    c.autoAck,
		unacked:    c.unacked,
		maxUnacked: c.maxUnacked,
		delivered:  c.delivered,
		cancelled:  c.cancelled,
		closed:     c.closed,
	}
}

type stubAcknowledger struct {
	channel   *stubChannel
	messageID string
}

func (a *stubAcknowledger) Ack(_ uint64, _ bool) error {
	return a.settle(true, false)
}

func (a *stubAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	return a.settle(false, requeue)
}

func (a *stubAcknowledger) Reject(_ uint64, requeue bool) error {
	return a.settle(false, requeue)
}

func (a *stubAcknowledger) settle(acked, requeue bool) error {
	c := a.channel
	b := c.broker
	b.mu.Lock()
	if c.closed {
		b.mu.Unlock()
		return errors.New("channel closed")
	}
	c.unacked--
	err := b.ackErr
	b.mu.Unlock()
	b.cond.Broadcast()

	b.settled <- settlement{messageID: a.messageID, channel: c.id, acked: acked, requeue: requeue}
	return err
}
