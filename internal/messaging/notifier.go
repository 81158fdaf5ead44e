package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Notifier отправляет уведомление о завершении задачи.
type Notifier interface {
	Notify(ctx context.Context, payload StoryNotificationPayload) error
}

// Publisher - часть *amqp.Channel, нужная для публикации.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// rabbitMQNotifier публикует уведомления в очередь результатов.
type rabbitMQNotifier struct {
	channel   Publisher
	queueName string
	logger    *zap.Logger
}

// NewRabbitMQNotifier создает Notifier. Очередь queueName должна быть объявлена заранее (DeclareTopology).
func NewRabbitMQNotifier(ch Publisher, queueName string, logger *zap.Logger) Notifier {
	return &rabbitMQNotifier{channel: ch, queueName: queueName, logger: logger.Named("Notifier")}
}

func (n *rabbitMQNotifier) Notify(ctx context.Context, payload StoryNotificationPayload) error {
	log := n.logger.With(zap.String("task_id", payload.TaskID))

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification for task %s: %w", payload.TaskID, err)
	}

	err = n.channel.PublishWithContext(ctx,
		"",
		n.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        "storyforge",
			MessageId:    payload.TaskID + "-notif",
		},
	)
	if err != nil {
		log.Error("Failed to publish notification", zap.Error(err))
		return fmt.Errorf("failed to publish notification for task %s: %w", payload.TaskID, err)
	}

	log.Info("Notification published", zap.String("queue", n.queueName), zap.String("status", payload.Status))
	return nil
}
