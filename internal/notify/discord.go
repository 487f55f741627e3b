package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// discordEmbedColor is the accent color for opportunity alerts (green).
const discordEmbedColor = 0x2ECC71

// discordMaxFields caps embed fields per the Discord API limit.
const discordMaxFields = 25

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordSender delivers notifications via a Discord webhook, rendered as a
// rich embed rather than plain content.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts an embed to the Discord webhook. "Key: Value" lines of the
// message become inline embed fields; remaining lines form the description.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := discordPayload{Embeds: []discordEmbed{d.buildEmbed(title, message)}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func (d *DiscordSender) buildEmbed(title, message string) discordEmbed {
	embed := discordEmbed{
		Title:     title,
		Color:     discordEmbedColor,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var desc []string
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ": ")
		if !ok || name == "" || value == "" || strings.Contains(name, " ") ||
			len(embed.Fields) >= discordMaxFields {
			desc = append(desc, line)
			continue
		}
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   name,
			Value:  value,
			Inline: true,
		})
	}
	embed.Description = strings.Join(desc, "\n")
	return embed
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
