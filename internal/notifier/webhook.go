package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"surveil/internal/config"
)

// WebhookSink delivers alerts to an external HTTP webhook (e.g. Discord),
// honoring Retry-After on 429 responses. A non-429 4xx response disables
// all further delivery until the process restarts, treating it as a
// misconfigured or revoked webhook rather than a transient failure.
type WebhookSink struct {
	client   *resty.Client
	url      string
	logger   *slog.Logger
	disabled atomic.Bool
}

// NewWebhookSink creates a Sink posting JSON payloads to cfg.WebhookURL.
func NewWebhookSink(cfg config.NotifierConfig, logger *slog.Logger) *WebhookSink {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)

	return &WebhookSink{
		client: client,
		url:    cfg.WebhookURL,
		logger: logger.With("component", "notifier.webhook"),
	}
}

// webhookFooter is the payload's fixed {text} footer shape.
type webhookFooter struct {
	Text string `json:"text"`
}

// webhookPayload is the fixed outbound schema: an embed with a title,
// description, color, an ordered list of name/value/inline fields, a
// footer, and a timestamp.
type webhookPayload struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Color       int           `json:"color"`
	Fields      []Field       `json:"fields"`
	Footer      webhookFooter `json:"footer"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Disabled reports whether a prior non-429 4xx response has permanently
// disabled delivery.
func (w *WebhookSink) Disabled() bool {
	return w.disabled.Load()
}

// Send posts the alert and retries once after honoring a 429's Retry-After
// header. A non-429 4xx disables the sink and returns a *DisableError so
// the caller can raise a system_alert.
func (w *WebhookSink) Send(ctx context.Context, alert Alert) error {
	if w.url == "" {
		return fmt.Errorf("notifier: webhook url not configured")
	}
	if w.disabled.Load() {
		return &DisableError{Err: fmt.Errorf("notifier: webhook delivery disabled after a prior 4xx response")}
	}

	now := time.Now()
	payload := webhookPayload{
		Title:       FormatTitle(alert),
		Description: FormatSummary(alert),
		Color:       FormatColor(alert.Priority),
		Fields:      FormatFields(alert),
		Footer:      webhookFooter{Text: FormatFooter(alert, now)},
		Timestamp:   alert.Timestamp,
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notifier: webhook post: %w", err)
	}

	if resp.StatusCode() == 429 {
		wait := retryAfter(resp.Header().Get("Retry-After"))
		w.logger.Warn("webhook rate limited, retrying after backoff", "retry_after", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		resp, err = w.client.R().
			SetContext(ctx).
			SetBody(payload).
			Post(w.url)
		if err != nil {
			return fmt.Errorf("notifier: webhook retry post: %w", err)
		}
	}

	if resp.IsError() {
		if isClientError(resp.StatusCode()) && resp.StatusCode() != 429 {
			w.disabled.Store(true)
			return &DisableError{Err: fmt.Errorf("notifier: webhook returned status %d, delivery disabled", resp.StatusCode())}
		}
		return fmt.Errorf("notifier: webhook returned status %d", resp.StatusCode())
	}
	return nil
}

func isClientError(status int) bool {
	return status >= 400 && status < 500
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}
