package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discordServer(t *testing.T, status int) (*httptest.Server, *[]discordPayload) {
	t.Helper()
	var received []discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p discordPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received = append(received, p)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestDiscordSendsOpportunityEmbed(t *testing.T) {
	srv, received := discordServer(t, http.StatusNoContent)
	sender := NewDiscordSender(srv.URL)

	opp := alertOpp()
	title := "Opportunity a1b2 (BTC/USDT)"
	require.NoError(t, sender.Send(context.Background(), title, FormatMessage(opp)))

	require.Len(t, *received, 1)
	require.Len(t, (*received)[0].Embeds, 1)
	embed := (*received)[0].Embeds[0]

	assert.Equal(t, title, embed.Title)
	assert.Equal(t, discordEmbedColor, embed.Color)
	assert.NotEmpty(t, embed.Timestamp)

	fields := make(map[string]string, len(embed.Fields))
	for _, f := range embed.Fields {
		fields[f.Name] = f.Value
	}
	assert.Equal(t, "0.4400%", fields["Difference"])
	assert.Equal(t, "82%", fields["Confidence"])
	assert.Contains(t, fields["Expires"], "12:15:00")

	// Narrative lines stay in the description rather than becoming fields.
	assert.Contains(t, embed.Description, "funding_rate arbitrage")
	assert.Contains(t, embed.Description, "Long binance")
}

func TestDiscordNon2xxStatus(t *testing.T) {
	srv, _ := discordServer(t, http.StatusTooManyRequests)
	sender := NewDiscordSender(srv.URL)

	err := sender.Send(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}
