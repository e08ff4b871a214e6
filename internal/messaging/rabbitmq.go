// Package messaging publishes journal events to RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"coursemarket/internal/eventstore"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
)

const (
	ExchangeName = "coursemarket.events"
	ExchangeType = "topic"
)

// SetupConn dials RabbitMQ, retrying while the broker starts, and declares
// the events exchange.
func SetupConn(url string) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Printf("Failed to connect to RabbitMQ (attempt %d): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}
	return conn, ch, nil
}

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends events to the topic exchange behind a circuit breaker, so
// an unavailable broker costs one fast failure per event instead of a timeout.
type Publisher struct {
	ch      Channel
	breaker *gobreaker.CircuitBreaker
}

// NewPublisher implements eventstore.Publisher on ch.
func NewPublisher(ch Channel) *Publisher {
	return &Publisher{
		ch: ch,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "rabbitmq-publisher",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("circuit breaker %s: %s -> %s", name, from, to)
			},
		}),
	}
}

// RoutingKey is <aggregate>.<event>, lower-cased.
func RoutingKey(e eventstore.Event) string {
	return strings.ToLower(e.AggregateType + "." + e.EventType)
}

func (p *Publisher) Publish(ctx context.Context, event eventstore.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.ch.PublishWithContext(ctx,
			ExchangeName,
			RoutingKey(event),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Type:         event.EventType,
				MessageId:    fmt.Sprintf("%s/%d", event.AggregateID, event.Version),
				Timestamp:    time.Now().UTC(),
				Body:         body,
			},
		)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKey(event), err)
	}
	return nil
}
