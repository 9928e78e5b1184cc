package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// webhookQueueSize is the bounded channel capacity for outbound events.
const webhookQueueSize = 1024

// ErrWebhookQueueFull is returned by WebhookAnalytics.Send when the event
// was dropped.
var ErrWebhookQueueFull = errors.New("analytics webhook queue full")

// WebhookConfig configures WebhookAnalytics.
type WebhookConfig struct {
	URL string
	// AuthHeader is "Header: Value", e.g. "Authorization: Bearer xxx".
	AuthHeader string
	Timeout    time.Duration
	// RetryDelay is the wait before the single retry after a 5xx or a
	// transport error.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// WebhookAnalytics forwards analytics events to an external HTTP endpoint.
// Send enqueues into a bounded channel and never blocks; a background
// goroutine posts the events. When the channel is full, events are dropped.
type WebhookAnalytics struct {
	url        string
	authHeader string
	retryDelay time.Duration
	client     *http.Client
	logger     *slog.Logger
	events     chan AnalyticsEvent
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

var _ AnalyticsSink = (*WebhookAnalytics)(nil)

// NewWebhookAnalytics starts the dispatcher. Call Close to drain it.
func NewWebhookAnalytics(cfg WebhookConfig) *WebhookAnalytics {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &WebhookAnalytics{
		url:        cfg.URL,
		authHeader: cfg.AuthHeader,
		retryDelay: cfg.RetryDelay,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger.With("component", "analytics_webhook"),
		events:     make(chan AnalyticsEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *WebhookAnalytics) Send(_ context.Context, e Entry) error {
	evt := newAnalyticsEvent(e)
	select {
	case w.events <- evt:
		return nil
	default:
		return ErrWebhookQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (w *WebhookAnalytics) Close() {
	w.closeOnce.Do(func() {
		close(w.events)
	})
	w.wg.Wait()
}

func (w *WebhookAnalytics) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		if err := w.send(evt); err != nil {
			w.logger.Warn("analytics webhook: delivery failed", "event", evt.EventType, "error", err)
		}
	}
}

// send POSTs evt with one retry on 5xx or transport errors. 4xx responses
// are not retried.
func (w *WebhookAnalytics) send(evt AnalyticsEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Showcase-Analytics-Webhook/1.0")
		if w.authHeader != "" {
			if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
				req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
			}
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("analytics webhook: request failed", "error", err, "attempt", attempt)
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			w.logger.Warn("analytics webhook: server error", "status", resp.StatusCode, "attempt", attempt)
			return fmt.Errorf("server error: %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("client error: %d", resp.StatusCode))
		}
	}

	return backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewConstantBackOff(w.retryDelay), 1))
}
