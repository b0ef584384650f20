package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is used when no exchange is configured.
const DefaultExchange = "ldc.audit"

// AMQPShipper publishes entries to a durable topic exchange with the routing key
// audit.<resource>.<action>
type AMQPShipper struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	mu       sync.Mutex
}

// NewAMQPShipper dials the broker and declares the exchange
func NewAMQPShipper(url, exchange string) (*AMQPShipper, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPShipper{conn: conn, ch: ch, exchange: exchange}, nil
}

// RoutingKey returns the topic an entry is published under.
func RoutingKey(e *LogEntry) string {
	part := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return "unknown"
		}
		return strings.ReplaceAll(s, ".", "_")
	}
	return "audit." + part(e.Resource) + "." + part(e.Action)
}

// Ship publishes the entry as JSON
func (s *AMQPShipper) Ship(ctx context.Context, entry *LogEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	// amqp channels are not safe for concurrent publishes
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.PublishWithContext(ctx, s.exchange, RoutingKey(entry), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    entry.Timestamp,
		MessageId:    entry.ID,
		Body:         b,
	})
}

// Close closes the channel and connection
func (s *AMQPShipper) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
