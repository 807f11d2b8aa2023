package rpc

import (
	"errors"

	"github.com/streadway/amqp"
)

// MockAMQPConnection is a test double for AMQPConnection.
type MockAMQPConnection struct {
	MockChannel AMQPChannel
	ChannelErr  error
	CloseErr    error
}

func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

func (m *MockAMQPConnection) Close() error { return m.CloseErr }

// MockAMQPChannel is a test double for AMQPChannel that records every
// published message and serves queued deliveries to Consume.
type MockAMQPChannel struct {
	Published       []amqp.Publishing
	QueueDeclareErr error
	PublishErr      error
	deliveries      chan amqp.Delivery
}

// NewMockAMQPChannel returns a channel whose Consume drains deliveries.
func NewMockAMQPChannel() *MockAMQPChannel {
	return &MockAMQPChannel{deliveries: make(chan amqp.Delivery, 64)}
}

func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	return amqp.Queue{Name: name}, nil
}

func (m *MockAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Published = append(m.Published, msg)
	select {
	case m.deliveries <- amqp.Delivery{Body: msg.Body}:
	default:
		return errors.New("mock amqp channel delivery buffer full")
	}
	return nil
}

func (m *MockAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return m.deliveries, nil
}

func (m *MockAMQPChannel) QueueInspect(name string) (amqp.Queue, error) {
	return amqp.Queue{Name: name, Messages: len(m.deliveries)}, nil
}

func (m *MockAMQPChannel) Close() error { return nil }

// MockAMQPDialer is a test double for AMQPDialer.
type MockAMQPDialer struct {
	MockConnection AMQPConnection
	DialErr        error
}

func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConnection, nil
}

// NewMockAMQPDialer wires up a connected mock dialer/connection/channel
// triple for tests.
func NewMockAMQPDialer() (*MockAMQPDialer, *MockAMQPChannel) {
	ch := NewMockAMQPChannel()
	conn := &MockAMQPConnection{MockChannel: ch}
	return &MockAMQPDialer{MockConnection: conn}, ch
}

var (
	_ AMQPConnection = (*MockAMQPConnection)(nil)
	_ AMQPChannel    = (*MockAMQPChannel)(nil)
	_ AMQPDialer     = (*MockAMQPDialer)(nil)
)
