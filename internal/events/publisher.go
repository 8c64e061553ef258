package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

const (
	ExchangeType = "topic"

	RoutingKeyOrderCreated   = "order.created"
	RoutingKeyPaymentSettled = "payment.settled"
)

// OrderCreated is emitted after an order has been committed.
type OrderCreated struct {
	EventID     string          `json:"event_id"`
	OrderID     int64           `json:"order_id"`
	BuyerID     int64           `json:"buyer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// PaymentSettled is emitted after a payment has been recorded and sellers
// credited.
type PaymentSettled struct {
	EventID    string          `json:"event_id"`
	PaymentID  int64           `json:"payment_id"`
	OrderID    int64           `json:"order_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	SellerIDs  []int64         `json:"seller_ids,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

// Connect dials RabbitMQ and declares the topic exchange. Broker startup is
// retried a few times so the API can come up alongside the container.
func Connect(url, exchange string) (*amqp.Connection, *Publisher, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		slog.Warn("connect to RabbitMQ", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}

	return conn, &Publisher{ch: ch, exchange: exchange}, nil
}

func (p *Publisher) OrderCreated(ctx context.Context, event OrderCreated) error {
	event.EventID = uuid.NewString()
	event.OccurredAt = time.Now().UTC()
	return p.publish(ctx, RoutingKeyOrderCreated, event)
}

func (p *Publisher) PaymentSettled(ctx context.Context, event PaymentSettled) error {
	event.EventID = uuid.NewString()
	event.OccurredAt = time.Now().UTC()
	return p.publish(ctx, RoutingKeyPaymentSettled, event)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, payload any) error {
	// Nil publisher means eventing is disabled.
	if p == nil {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}
