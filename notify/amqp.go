package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/warp/tutor-ledger/ledger"
)

// DefaultQueue receives notifications when no queue name is configured.
const DefaultQueue = "tutor.notifications"

const publishTimeout = 2 * time.Second

// Publisher is the subset of *amqp.Channel used to publish.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes every notification as a persistent JSON message on a
// durable queue through the default exchange. Failures are logged and
// dropped.
type AMQP struct {
	pub    Publisher
	queue  string
	logger *zap.Logger
	closer func() error
}

// NewAMQP publishes through an already open channel.
func NewAMQP(pub Publisher, queue string, logger *zap.Logger) *AMQP {
	if queue == "" {
		queue = DefaultQueue
	}
	return &AMQP{pub: pub, queue: queue, logger: logger, closer: func() error { return nil }}
}

// DialAMQP connects to the broker, declares the queue and returns a sink
// owning the connection.
func DialAMQP(url, queue string, logger *zap.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	sink := NewAMQP(ch, queue, logger)
	if _, err := ch.QueueDeclare(
		sink.queue, // name
		true,       // durable
		false,      // autoDelete
		false,      // exclusive
		false,      // noWait
		nil,        // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	sink.closer = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return sink, nil
}

func (a *AMQP) Notify(n ledger.Notification) {
	body, err := json.Marshal(n)
	if err != nil {
		a.logger.Warn("rabbitmq: marshal notification failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.At.UTC(),
		Type:         string(n.Severity),
		Body:         body,
	}
	if err := a.pub.PublishWithContext(ctx, "", a.queue, false, false, msg); err != nil {
		a.logger.Warn("rabbitmq: publish failed", zap.Error(err), zap.String("queue", a.queue))
	}
}

func (a *AMQP) Close() error {
	return a.closer()
}
