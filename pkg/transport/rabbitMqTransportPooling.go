package transport

import (
	"fmt"

	"github.com/streadway/amqp"

	"github.com/zoff-tech/payment-relay/pkg/config"
)

// amqpConnection is the subset of *amqp.Connection the transport uses.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// amqpChannel is the subset of *amqp.Channel the transport uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type amqpConnectionAdapter struct {
	conn *amqp.Connection
}

func (a *amqpConnectionAdapter) Channel() (amqpChannel, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (a *amqpConnectionAdapter) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return a.conn.NotifyClose(receiver)
}

func (a *amqpConnectionAdapter) IsClosed() bool { return a.conn.IsClosed() }
func (a *amqpConnectionAdapter) Close() error   { return a.conn.Close() }

// dialAmqp is replaced in tests.
var dialAmqp = func(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnectionAdapter{conn: conn}, nil
}

type pooledChannel struct {
	channel     amqpChannel
	notifyClose chan *amqp.Error
}

func newConnection(settings *config.TransportSettings) (amqpConnection, error) {
	conn, err := dialAmqp(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func (r *rabbitMqTransport) initPoolLocked() error {
	r.channelPool = make(chan *pooledChannel, r.settings.PoolSize)
	for i := 0; i < r.settings.PoolSize; i++ {
		channel, err := r.connection.Channel()
		if err != nil {
			return fmt.Errorf("failed to fill channel pool: %w", err)
		}
		r.channelPool <- &pooledChannel{
			channel:     channel,
			notifyClose: channel.NotifyClose(make(chan *amqp.Error, 1)),
		}
	}
	r.logger.Debug("RabbitMQ channel pool initialized", "size", r.settings.PoolSize)
	return nil
}

func (r *rabbitMqTransport) getChannel() (*pooledChannel, error) {
	for {
		select {
		case pooledChan := <-r.channelPool:
			select {
			case err := <-pooledChan.notifyClose:
				r.logger.Debug("discarding closed channel", "error", err)
				continue
			default:
				return pooledChan, nil
			}
		default:
			r.logger.Debug("channel pool empty, opening channel")
			channel, err := r.connection.Channel()
			if err != nil {
				return nil, err
			}
			return &pooledChannel{
				channel:     channel,
				notifyClose: channel.NotifyClose(make(chan *amqp.Error, 1)),
			}, nil
		}
	}
}

func (r *rabbitMqTransport) releaseChannel(pooledChan *pooledChannel) {
	select {
	case err := <-pooledChan.notifyClose:
		r.logger.Debug("discarding closed channel", "error", err)
		return
	default:
		select {
		case r.channelPool <- pooledChan:
		default:
			r.logger.Debug("closing channel as pool is full")
			pooledChan.channel.Close()
		}
	}
}
