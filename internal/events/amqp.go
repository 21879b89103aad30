package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"trendtrader/internal/model"
)

// DefaultExchange is the topic exchange trade events are published to.
const DefaultExchange = "trendtrader.trades"

// AMQPPublisher publishes trade events as persistent JSON messages on a
// durable topic exchange. Routing keys are trade.<signal>.<exchange>.<token>.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

// NewAMQPPublisher connects to uri, retrying for a few seconds, and
// declares exchange.
func NewAMQPPublisher(uri, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	var conn *amqp091.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp091.Dial(uri)
		if err == nil {
			break
		}
		log.Printf("[amqp] connection attempt %d failed: %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("amqp dial after 5 attempts: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		log.Printf("[amqp] publisher confirms unavailable: %v", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.Printf("[amqp] publishing trade events to %s", exchange)
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// RoutingKey returns the topic routing key for ev.
func RoutingKey(ev model.TradeEvent) string {
	signal := strings.ToLower(ev.Signal)
	if signal == "" {
		signal = "unknown"
	}
	return "trade." + signal + "." + strings.ReplaceAll(ev.Instrument, ":", ".")
}

func (p *AMQPPublisher) PublishTrade(ctx context.Context, ev model.TradeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.channel.PublishWithContext(pctx, p.exchange, RoutingKey(ev), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    ev.GroupID + ":" + ev.OrderID,
		Timestamp:    ev.TS,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", ev.GroupID, err)
	}
	return nil
}

// Close closes the publisher's channel and connection.
func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
