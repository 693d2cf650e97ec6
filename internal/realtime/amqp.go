package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Producer string    `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
}

type Envelope struct {
	Meta   Meta   `json:"meta"`
	Scope  Scope  `json:"scope"`
	Target string `json:"target"`
	Data   any    `json:"data"`
}

// AMQPBroadcaster publishes events to a topic exchange. Websocket gateways bind
// queues with routing keys such as "tenant.<id>.#" or "visitor.<id>.#".
type AMQPBroadcaster struct {
	conn     *amqp.Connection
	exchange string
	producer string
	logger   zerolog.Logger
}

func NewAMQPBroadcaster(url, exchange, producer string, logger zerolog.Logger) (*AMQPBroadcaster, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPBroadcaster{conn: conn, exchange: exchange, producer: producer, logger: logger}, nil
}

func (b *AMQPBroadcaster) Close() error {
	return b.conn.Close()
}

func (b *AMQPBroadcaster) EmitToTenant(ctx context.Context, tenantID, event string, payload any) {
	b.publish(ctx, ScopeTenant, tenantID, event, payload)
}

func (b *AMQPBroadcaster) EmitToAgent(ctx context.Context, agentID, event string, payload any) {
	b.publish(ctx, ScopeAgent, agentID, event, payload)
}

func (b *AMQPBroadcaster) EmitToVisitor(ctx context.Context, contactID, event string, payload any) {
	b.publish(ctx, ScopeVisitor, contactID, event, payload)
}

func (b *AMQPBroadcaster) publish(ctx context.Context, scope Scope, target, event string, payload any) {
	// detach from the request so a finished HTTP call does not cancel the publish
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	env := Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     event,
			Producer: b.producer,
			Time:     time.Now().UTC(),
		},
		Scope:  scope,
		Target: target,
		Data:   payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}

	ch, err := b.conn.Channel()
	if err != nil {
		b.logger.Warn().Err(err).Str("event", event).Msg("amqp channel unavailable, event dropped")
		return
	}
	defer ch.Close()

	key := RoutingKey(scope, target, event)
	err = ch.PublishWithContext(ctx, b.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    env.Meta.ID,
		Type:         event,
		Timestamp:    env.Meta.Time,
		Body:         body,
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("routing_key", key).Msg("publish event failed")
		return
	}
	b.logger.Debug().Str("routing_key", key).Msg("published")
}

func RoutingKey(scope Scope, target, event string) string {
	return string(scope) + "." + target + "." + event
}
