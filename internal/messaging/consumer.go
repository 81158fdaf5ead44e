package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storyforge/internal/metrics"
)

// ErrNoChannel - публикация до установки соединения.
var ErrNoChannel = errors.New("rabbitmq channel is not available")

// ConsumerConfig настройки воркера очереди.
type ConsumerConfig struct {
	URL            string
	ConsumerName   string
	TaskQueue      string
	ResultQueue    string
	Prefetch       int
	ReconnectDelay time.Duration
}

// Handler обрабатывает задачу из очереди.
type Handler interface {
	Handle(ctx context.Context, payload GenerationTaskPayload) error
}

// ChannelPublisher публикует через текущий канал; канал меняется при переподключении.
type ChannelPublisher struct {
	mu sync.RWMutex
	ch *amqp.Channel
}

func (p *ChannelPublisher) set(ch *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch = ch
}

// PublishWithContext публикует сообщение в текущий канал.
func (p *ChannelPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()
	if ch == nil {
		return ErrNoChannel
	}
	return ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

// Consumer читает задачи из очереди и переподключается при потере соединения.
type Consumer struct {
	cfg       ConsumerConfig
	handler   Handler
	publisher *ChannelPublisher
	logger    *zap.Logger
}

// NewConsumer создает Consumer. Handler можно задать позже через SetHandler.
func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Consumer{
		cfg:       cfg,
		publisher: &ChannelPublisher{},
		logger:    logger.Named("TaskConsumer"),
	}
}

// Publisher возвращает издателя для уведомлений, привязанного к соединению Consumer.
func (c *Consumer) Publisher() *ChannelPublisher { return c.publisher }

// SetHandler задает обработчик задач.
func (c *Consumer) SetHandler(h Handler) { c.handler = h }

// Run потребляет сообщения до отмены ctx.
func (c *Consumer) Run(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("task consumer has no handler")
	}
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Task consumer stopped")
			return nil
		}
		c.logger.Warn("RabbitMQ session ended, reconnecting", zap.Error(err), zap.Duration("delay", c.cfg.ReconnectDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// session - одно соединение: топология, подписка, обработка до разрыва.
func (c *Consumer) session(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := DeclareTopology(ch, c.cfg.TaskQueue, c.cfg.ResultQueue); err != nil {
		return err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(c.cfg.TaskQueue, c.cfg.ConsumerName, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.publisher.set(ch)
	defer c.publisher.set(nil)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.logger.Info("Waiting for story tasks", zap.String("queue", c.cfg.TaskQueue), zap.Int("prefetch", c.cfg.Prefetch))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			return fmt.Errorf("connection closed: %v", amqpErr)
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.HandleDelivery(ctx, msg)
		}
	}
}

// HandleDelivery разбирает сообщение, вызывает обработчик и подтверждает или отклоняет его.
// Плохие и невалидные задачи уходят в DLQ; временные ошибки возвращаются в очередь один раз.
func (c *Consumer) HandleDelivery(ctx context.Context, msg amqp.Delivery) {
	var payload GenerationTaskPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.Error("Failed to decode task payload, rejecting", zap.Error(err), zap.ByteString("body", msg.Body))
		metrics.RecordQueueMessage("malformed")
		_ = msg.Nack(false, false)
		return
	}

	log := c.logger.With(zap.String("task_id", payload.TaskID))
	err := c.handler.Handle(ctx, payload)
	switch {
	case err == nil:
		metrics.RecordQueueMessage("processed")
		_ = msg.Ack(false)
	case permanent(err) || msg.Redelivered:
		log.Error("Task failed, sending to DLQ", zap.Error(err))
		metrics.RecordQueueMessage("dead_lettered")
		_ = msg.Nack(false, false)
	default:
		log.Warn("Task failed, requeueing once", zap.Error(err))
		metrics.RecordQueueMessage("requeued")
		_ = msg.Nack(false, true)
	}
}

// DeclareTopology объявляет очереди задач и результатов, DLX и DLQ.
func DeclareTopology(ch *amqp.Channel, taskQueue, resultQueue string) error {
	dlxName := taskQueue + "_dlx"
	dlqName := taskQueue + "_dlq"
	const dlqRoutingKey = "dlq"

	if err := ch.ExchangeDeclare(dlxName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLX %s: %w", dlxName, err)
	}
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ %s: %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, dlqRoutingKey, dlxName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ %s: %w", dlqName, err)
	}

	_, err := ch.QueueDeclare(taskQueue, true, false, false, false, amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqRoutingKey,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", taskQueue, err)
	}

	if _, err := ch.QueueDeclare(resultQueue, true, false, false, false, amqp.Table{"x-queue-mode": "lazy"}); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", resultQueue, err)
	}
	return nil
}
