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

// TelegramChannel delivers opportunities via the Telegram Bot API to each
// user's own chat.
type TelegramChannel struct {
	token  string
	client *http.Client
}

// NewTelegramChannel creates a TelegramChannel for the given bot token. It
// uses a default HTTP client with a 10-second timeout.
func NewTelegramChannel(token string) *TelegramChannel {
	return &TelegramChannel{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Deliver posts the opportunity to the user's chat using the sendMessage
// API. Users without a chat ID are not this channel's audience.
func (t *TelegramChannel) Deliver(ctx context.Context, user domain.UserProfile, opp domain.Opportunity) error {
	if user.ChatID == "" {
		return fmt.Errorf("telegram: user %s: %w", user.ID, ErrNoTarget)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	payload := map[string]string{
		"chat_id":    user.ChatID,
		"text":       FormatMessage(opp),
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the channel identifier.
func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Compile-time interface check.
var _ domain.DeliveryChannel = (*TelegramChannel)(nil)
