package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultWebhookRetryInterval = time.Minute

// DeliveryRetrier redelivers failed webhook deliveries that still have retry
// budget. Implemented by the webhook notifier.
type DeliveryRetrier interface {
	RetryFailed(ctx context.Context) (int, error)
}

// WebhookRetryWorker periodically sweeps failed webhook deliveries
type WebhookRetryWorker struct {
	retrier  DeliveryRetrier
	logger   *zap.Logger
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWebhookRetryWorker creates the delivery retry worker
func NewWebhookRetryWorker(retrier DeliveryRetrier, logger *zap.Logger) *WebhookRetryWorker {
	return &WebhookRetryWorker{
		retrier:  retrier,
		logger:   logger,
		interval: defaultWebhookRetryInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Name returns the worker name
func (w *WebhookRetryWorker) Name() string {
	return "webhook-retry"
}

// Start launches the sweep loop
func (w *WebhookRetryWorker) Start(ctx context.Context) error {
	go w.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for the current sweep to finish
func (w *WebhookRetryWorker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *WebhookRetryWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.retrier.RetryFailed(ctx)
			if err != nil {
				w.logger.Error("Webhook retry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.logger.Info("Webhook deliveries retried", zap.Int("count", n))
			}
		}
	}
}
