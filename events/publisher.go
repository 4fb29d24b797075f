/*
publisher.go - RabbitMQ publisher of recorded actions

PURPOSE:
  Emits an ActionRecorded message for every settled outcome (Success or
  AlreadyInState) so downstream consumers (dashboards, notifications) can
  follow attendance without polling the API.

RULES:
  - Topic exchange, routing key ledger.<kind>.<action>
  - Best-effort: publish errors are logged and never change the outcome
  - Messages are persistent JSON

SEE ALSO:
  - generic/observer.go: Observer hook
*/
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/warp/tour-ledger/generic"
)

const publishTimeout = 2 * time.Second

var ErrClosed = errors.New("events: publisher closed")

// ActionRecorded is the message body.
type ActionRecorded struct {
	LogID         string    `json:"log_id"`
	Tenant        string    `json:"tenant"`
	Event         string    `json:"event"`
	Kind          string    `json:"kind"`
	Target        string    `json:"target,omitempty"`
	ParticipantID string    `json:"participant_id"`
	Action        string    `json:"action"`
	Method        string    `json:"method"`
	Result        string    `json:"result"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	exchange string
	logger   *zap.Logger

	mu   sync.Mutex
	ch   Channel
	conn *amqp.Connection
}

var _ generic.Observer = (*Publisher)(nil)

// Dial connects to the broker and declares the durable topic exchange.
func Dial(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	p := NewPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

// NewPublisher wraps an already open channel.
func NewPublisher(ch Channel, exchange string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{exchange: exchange, logger: logger, ch: ch}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.ch != nil {
		err = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
		p.conn = nil
	}
	return err
}

// RoutingKey returns ledger.<kind>.<action>.
func RoutingKey(scope generic.Scope, action generic.Action) string {
	return fmt.Sprintf("ledger.%s.%s", scope.Kind, action)
}

func (p *Publisher) Observe(ctx context.Context, scope generic.Scope, out generic.Outcome) {
	if !out.Result.Settled() || out.Participant == nil {
		return
	}
	if err := p.Publish(ctx, scope, out); err != nil {
		p.logger.Warn("failed to publish action",
			zap.String("scope", scope.String()),
			zap.String("log_id", string(out.LogID)),
			zap.Error(err),
		)
	}
}

// Publish sends one message. It is bounded by publishTimeout and ignores
// cancellation of the request context.
func (p *Publisher) Publish(ctx context.Context, scope generic.Scope, out generic.Outcome) error {
	msg := ActionRecorded{
		LogID:      string(out.LogID),
		Tenant:     string(scope.Tenant),
		Event:      string(scope.Event),
		Kind:       string(scope.Kind),
		Target:     scope.Target,
		Action:     string(out.Action),
		Method:     string(out.Method),
		Result:     string(out.Result),
		OccurredAt: out.RecordedAt.UTC(),
	}
	if out.Participant != nil {
		msg.ParticipantID = string(out.Participant.ID)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrClosed
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange,                    // exchange
		RoutingKey(scope, out.Action), // routing key
		false,                         // mandatory
		false,                         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    string(out.LogID),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}
