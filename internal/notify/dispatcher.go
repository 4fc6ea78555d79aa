package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chainwatch/chainwatch/internal/store"
	"github.com/chainwatch/chainwatch/pkg/alerting"
	"github.com/chainwatch/chainwatch/pkg/config"
	"github.com/chainwatch/chainwatch/pkg/logging"
	"github.com/chainwatch/chainwatch/pkg/resilience"
)

const popTimeout = 2 * time.Second

// Dispatcher queues triggered alerts in Redis and delivers them to the
// configured channels from a background worker. Send never blocks on
// delivery; an alert survives a process restart once it is queued.
type Dispatcher struct {
	redis    *store.RedisClient
	alerts   *store.AlertRepository
	channels []Channel
	queueKey string
	retrier  *resilience.Retrier
	logger   *logging.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDispatcher creates a dispatcher draining the configured queue
func NewDispatcher(redis *store.RedisClient, alerts *store.AlertRepository, cfg config.NotifyConfig) *Dispatcher {
	d := &Dispatcher{
		redis:    redis,
		alerts:   alerts,
		queueKey: cfg.QueueKey,
		retrier: resilience.NewRetrier(resilience.RetryConfig{
			MaxRetries:        3,
			InitialDelay:      time.Second,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		}),
		logger: logging.GetLogger(),
	}

	if cfg.WebhookURL != "" {
		d.channels = append(d.channels, NewWebhookChannel(cfg.WebhookURL, cfg.SendTimeout))
	}
	if cfg.SlackWebhookURL != "" {
		d.channels = append(d.channels, NewSlackChannel(cfg.SlackWebhookURL, cfg.SendTimeout))
	}

	return d
}

// Send enqueues an alert for delivery. The push happens in the background;
// a queue failure is logged, never surfaced to the caller.
func (d *Dispatcher) Send(alert *alerting.Alert) {
	go func() {
		payload, err := json.Marshal(alert)
		if err != nil {
			d.logger.WithError(err).Error("Failed to encode alert for queue")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := d.redis.LPush(ctx, d.queueKey, payload); err != nil {
			d.logger.WithError(err).WithFields(logging.Fields{
				"alert_id": alert.ID,
			}).Error("Failed to enqueue alert notification")
		}
	}()
}

// Start launches the delivery worker
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.work(ctx)
}

// Stop shuts the worker down and waits for the in-flight delivery
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// QueueLength reports how many alerts are waiting for delivery
func (d *Dispatcher) QueueLength(ctx context.Context) (int64, error) {
	return d.redis.LLen(ctx, d.queueKey)
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		// BRPop with a short timeout so shutdown is observed promptly
		values, err := d.redis.BRPop(ctx, popTimeout, d.queueKey)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if len(values) < 2 {
			continue
		}

		var alert alerting.Alert
		if err := json.Unmarshal([]byte(values[1]), &alert); err != nil {
			d.logger.WithError(err).Error("Failed to decode queued alert, dropping")
			continue
		}

		d.deliver(ctx, &alert)
	}
}

// deliver fans one alert out to every channel, retrying each independently
func (d *Dispatcher) deliver(ctx context.Context, alert *alerting.Alert) {
	delivered := false

	for _, channel := range d.channels {
		err := d.retrier.Execute(ctx, func(ctx context.Context) error {
			return channel.Deliver(ctx, alert)
		})
		if err != nil {
			d.logger.WithError(err).WithFields(logging.Fields{
				"alert_id": alert.ID,
				"channel":  channel.Name(),
			}).Error("Failed to deliver alert notification")
			continue
		}

		delivered = true
		d.logger.Info("Alert notification delivered",
			"alert_id", alert.ID,
			"channel", channel.Name(),
		)
	}

	if delivered && d.alerts != nil {
		if err := d.alerts.MarkNotified(ctx, alert.ID); err != nil {
			d.logger.WithError(err).WithFields(logging.Fields{
				"alert_id": alert.ID,
			}).Error("Failed to mark alert notified")
		}
	}
}
