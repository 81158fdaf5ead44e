package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const jobName = "storyforge_worker"

// Pusher периодически отправляет метрики в Pushgateway.
type Pusher struct {
	pusher   *push.Pusher
	instance string
	logger   *zap.Logger
}

// NewPusher создает Pusher и сразу пробует отправить метрики, чтобы проверить соединение.
func NewPusher(pushgatewayURL string, logger *zap.Logger) (*Pusher, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instance := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	p := &Pusher{
		pusher:   push.New(pushgatewayURL, jobName).Gatherer(prometheus.DefaultGatherer).Grouping("instance", instance),
		instance: instance,
		logger:   logger.Named("MetricsPusher"),
	}
	if err := p.pusher.Push(); err != nil {
		return nil, fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	p.logger.Info("Initial push to Pushgateway successful", zap.String("url", pushgatewayURL), zap.String("instance", instance))
	return p, nil
}

// Start отправляет метрики каждые interval до отмены ctx.
func (p *Pusher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.pusher.Push(); err != nil {
					p.logger.Warn("Error pushing metrics to Pushgateway", zap.Error(err))
				}
			}
		}
	}()
	p.logger.Info("Started periodic metrics push", zap.Duration("interval", interval))
}

// Cleanup удаляет метрики этого инстанса из Pushgateway.
func (p *Pusher) Cleanup() {
	if err := p.pusher.Delete(); err != nil {
		p.logger.Warn("Error deleting metrics from Pushgateway", zap.Error(err))
		return
	}
	p.logger.Info("Deleted metrics from Pushgateway", zap.String("instance", p.instance))
}
