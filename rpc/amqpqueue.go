package rpc

import (
	"context"
	"time"

	"github.com/streadway/amqp"

	"github.com/evalgo/clusterlib/clerr"
)

// AMQPQueue is a Queue transport backed by a durable RabbitMQ queue,
// built on the generic AMQPConnection/AMQPChannel interfaces so the
// Put/Take/TakeWaitMsecs/Len contract can be exercised against a mock
// dialer without a broker.
type AMQPQueue struct {
	conn AMQPConnection
	ch   AMQPChannel
	name string

	deliveries <-chan amqp.Delivery
}

// NewAMQPQueue dials via dialer, declares a durable queue named name,
// and returns a Queue backed by it.
func NewAMQPQueue(dialer AMQPDialer, url, name string) (*AMQPQueue, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, clerr.Wrap(clerr.SystemFailure, "amqp dial failed", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, clerr.Wrap(clerr.SystemFailure, "amqp channel failed", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return nil, clerr.Wrap(clerr.SystemFailure, "amqp queue declare failed", err)
	}
	deliveries, err := ch.Consume(name, "", true, false, false, false, nil)
	if err != nil {
		return nil, clerr.Wrap(clerr.SystemFailure, "amqp consume failed", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, name: name, deliveries: deliveries}, nil
}

// Put publishes payload to the default exchange routed by queue name.
func (q *AMQPQueue) Put(ctx context.Context, payload []byte) error {
	if err := q.ch.Publish("", q.name, false, false, amqp.Publishing{Body: payload}); err != nil {
		return clerr.Wrap(clerr.SystemFailure, "amqp publish failed", err)
	}
	return nil
}

// Take blocks until a delivery arrives or ctx is cancelled.
func (q *AMQPQueue) Take(ctx context.Context) ([]byte, error) {
	select {
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, clerr.New(clerr.ObjectRemoved, "amqp queue closed")
		}
		return d.Body, nil
	case <-ctx.Done():
		return nil, clerr.Wrap(clerr.OperationCancelled, "queue take cancelled", ctx.Err())
	}
}

// TakeWaitMsecs bounds Take by msecs.
func (q *AMQPQueue) TakeWaitMsecs(ctx context.Context, msecs int) ([]byte, bool, error) {
	timeout := time.Duration(msecs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	payload, err := q.Take(wctx)
	if err == nil {
		return payload, true, nil
	}
	if kind, ok := clerr.KindOf(err); ok && kind == clerr.OperationCancelled && ctx.Err() == nil {
		// wctx's own deadline fired, not the caller's ctx: a timeout,
		// not a cancellation.
		return nil, false, nil
	}
	return nil, false, err
}

// Len reports the broker-reported message count.
func (q *AMQPQueue) Len(ctx context.Context) (int, error) {
	info, err := q.ch.QueueInspect(q.name)
	if err != nil {
		return 0, clerr.Wrap(clerr.SystemFailure, "amqp queue inspect failed", err)
	}
	return info.Messages, nil
}

// Close releases the channel and connection.
func (q *AMQPQueue) Close() error {
	chErr := q.ch.Close()
	connErr := q.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

var _ Queue = (*AMQPQueue)(nil)
