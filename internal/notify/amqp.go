package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQP publishes events to a topic exchange with the event kind as the
// routing key. The push-delivery worker consumes from there.
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

// DialAMQP connects and declares the exchange.
func DialAMQP(url, exchange string, log *zap.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQP{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func (a *AMQP) Dispatch(ctx context.Context, e Event) {
	body, err := marshalEvent(e)
	if err != nil {
		a.log.Error("encode event", zap.String("kind", string(e.Kind)), zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.ch.PublishWithContext(ctx, a.exchange, string(e.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At,
		Body:         body,
	})
	if err != nil {
		a.log.Warn("publish event", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ch.Close(); err != nil {
		a.conn.Close()
		return err
	}
	return a.conn.Close()
}

func marshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
