package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"agripredict/database"
)

// WebhookTarget is one configured endpoint.
type WebhookTarget struct {
	URL        string
	AuthHeader string // e.g. "Authorization"
	AuthValue  string
}

// DeliveryLogger records webhook attempts; *database.RunRepository satisfies it.
type DeliveryLogger interface {
	SaveWebhookLog(ctx context.Context, log *database.PublishWebhookLog) error
}

// WebhookNotifier POSTs the event to every target with retries.
type WebhookNotifier struct {
	targets    []WebhookTarget
	retries    int
	retryDelay time.Duration
	client     *http.Client
	deliveries DeliveryLogger
	log        zerolog.Logger
}

// NewWebhookNotifier creates a webhook notifier. deliveries may be nil.
func NewWebhookNotifier(targets []WebhookTarget, retries int, retryDelay, timeout time.Duration, deliveries DeliveryLogger, log zerolog.Logger) *WebhookNotifier {
	if retries <= 0 {
		retries = 1
	}
	return &WebhookNotifier{
		targets:    targets,
		retries:    retries,
		retryDelay: retryDelay,
		client: &http.Client{
			Timeout: timeout,
		},
		deliveries: deliveries,
		log:        log,
	}
}

// Name implements Notifier
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify implements Notifier. It fails if any target could not be reached.
func (n *WebhookNotifier) Notify(ctx context.Context, event *PublishEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	failed := 0
	for _, target := range n.targets {
		if err := n.deliver(ctx, target, event.Generation, payload); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d webhooks failed", failed, len(n.targets))
	}
	return nil
}

func (n *WebhookNotifier) deliver(ctx context.Context, target WebhookTarget, generation string, payload []byte) error {
	var (
		lastErr    error
		statusCode int
	)

	for attempt := 1; attempt <= n.retries; attempt++ {
		n.log.Debug().Str("url", target.URL).Int("attempt", attempt).Int("max", n.retries).Msg("🔹 Sending webhook")

		statusCode, lastErr = n.post(ctx, target, payload)
		if lastErr == nil {
			n.logDelivery(ctx, target.URL, generation, "SUCCESS", statusCode, "", attempt)
			return nil
		}

		if attempt < n.retries {
			select {
			case <-ctx.Done():
				n.logDelivery(ctx, target.URL, generation, "FAILED", statusCode, ctx.Err().Error(), attempt)
				return ctx.Err()
			case <-time.After(n.retryDelay):
			}
		}
	}

	n.logDelivery(ctx, target.URL, generation, "FAILED", statusCode, lastErr.Error(), n.retries)
	return lastErr
}

func (n *WebhookNotifier) post(ctx context.Context, target WebhookTarget, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AgriPredict-Publisher/1.0")
	if target.AuthHeader != "" {
		req.Header.Set(target.AuthHeader, target.AuthValue)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target.URL)
	}
	return resp.StatusCode, nil
}

func (n *WebhookNotifier) logDelivery(ctx context.Context, url, generation, status string, code int, errMsg string, attempt int) {
	if n.deliveries == nil {
		return
	}

	entry := &database.PublishWebhookLog{
		WebhookURL:   url,
		Generation:   generation,
		TriggeredAt:  time.Now(),
		Status:       status,
		ErrorMessage: errMsg,
		RetryAttempt: attempt,
	}
	if code != 0 {
		entry.HTTPStatusCode = &code
	}

	// the delivery itself may have consumed the dispatch deadline
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := n.deliveries.SaveWebhookLog(saveCtx, entry); err != nil {
		n.log.Warn().Err(err).Msg("⚠️ Failed to save webhook log")
	}
}
