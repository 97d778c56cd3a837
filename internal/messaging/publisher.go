package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"design-server/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ClientUpdatePublisher pushes design updates toward the websocket edge.
// Publishing is fire-and-forget from the workflow's point of view: a publish
// failure must never fail the workflow step that produced the update.
type ClientUpdatePublisher interface {
	PublishClientUpdate(ctx context.Context, update models.ClientDesignUpdate) error
}

type rabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQClientUpdatePublisher declares the durable updates queue and
// returns a publisher bound to it.
func NewRabbitMQClientUpdatePublisher(conn *amqp.Connection, queueName string, logger *zap.Logger) (ClientUpdatePublisher, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return &rabbitMQPublisher{
		channel:   channel,
		queueName: queueName,
		logger:    logger.Named("ClientUpdatePublisher"),
	}, nil
}

func (p *rabbitMQPublisher) PublishClientUpdate(ctx context.Context, update models.ClientDesignUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal client update: %w", err)
	}
	p.logger.Debug("Publishing client update",
		zap.String("sessionID", update.SessionID), zap.String("updateType", string(update.UpdateType)))
	return p.publishMessage(ctx, body)
}

func (p *rabbitMQPublisher) publishMessage(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return fmt.Errorf("rabbitmq channel is not initialized")
	}

	publishCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = p.channel.PublishWithContext(publishCtx,
			"",          // default exchange
			p.queueName, // routing key
			false,       // mandatory
			false,       // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				AppId:        "design-server",
				Body:         body,
			},
		)
		if lastErr == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed",
			zap.Int("attempt", attempt), zap.Error(lastErr))
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return fmt.Errorf("failed to publish message after retries: %w", lastErr)
}
