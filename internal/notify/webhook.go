package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arbradar/arbradar/internal/domain"
)

// WebhookChannel delivers opportunities as JSON POSTs to each user's own
// webhook endpoint, falling back to a service-wide default URL when the user
// has none configured.
type WebhookChannel struct {
	client     *http.Client
	defaultURL string
}

// NewWebhookChannel creates a WebhookChannel with a default HTTP client and
// a 10-second timeout. defaultURL may be empty.
func NewWebhookChannel(defaultURL string) *WebhookChannel {
	return &WebhookChannel{
		client:     &http.Client{Timeout: 10 * time.Second},
		defaultURL: defaultURL,
	}
}

// webhookPayload is the wire shape posted to user endpoints.
type webhookPayload struct {
	Event       string             `json:"event"`
	Opportunity domain.Opportunity `json:"opportunity"`
	SentAt      time.Time          `json:"sent_at"`
}

// Deliver posts the opportunity to the user's webhook. Users without a
// webhook URL are not this channel's audience unless a default is set.
func (w *WebhookChannel) Deliver(ctx context.Context, user domain.UserProfile, opp domain.Opportunity) error {
	target := user.Webhook
	if target == "" {
		target = w.defaultURL
	}
	if target == "" {
		return fmt.Errorf("webhook: user %s: %w", user.ID, ErrNoTarget)
	}

	body, err := json.Marshal(webhookPayload{
		Event:       "opportunity",
		Opportunity: opp,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the channel identifier.
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// Compile-time interface check.
var _ domain.DeliveryChannel = (*WebhookChannel)(nil)
