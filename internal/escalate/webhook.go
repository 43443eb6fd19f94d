package escalate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/alerts"
)

// WebhookTarget POSTs critical alerts to a configured HTTP endpoint.
type WebhookTarget struct {
	client *http.Client
	url    string
	logger *zap.Logger
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// webhookBody is the JSON document POSTed to the endpoint.
type webhookBody struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Priority    string          `json:"priority"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data,omitempty"`
	ActionURL   string          `json:"action_url,omitempty"`
	ActionLabel string          `json:"action_label,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewWebhookTarget creates a webhook target.
func NewWebhookTarget(cfg WebhookConfig, logger *zap.Logger) *WebhookTarget {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookTarget{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		logger: logger,
	}
}

func (t *WebhookTarget) Name() string {
	return "webhook"
}

// Deliver POSTs the alert as JSON. Any 2xx response counts as delivered.
func (t *WebhookTarget) Deliver(ctx context.Context, alert alerts.Alert) error {
	body, err := json.Marshal(webhookBody{
		ID:          alert.ID.String(),
		Category:    alert.Category,
		Priority:    alert.Priority,
		Title:       alert.Title,
		Message:     alert.Message,
		Data:        alert.Data,
		ActionURL:   alert.ActionURL,
		ActionLabel: alert.ActionLabel,
		CreatedAt:   alert.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Opsbell/1.0.0")
	req.Header.Set("X-Opsbell-Alert-ID", alert.ID.String())
	req.Header.Set("X-Opsbell-Category", alert.Category)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response body for logging/debugging
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	t.logger.Info("alert delivered to webhook",
		zap.String("alert_id", alert.ID.String()),
		zap.String("url", t.url),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}
