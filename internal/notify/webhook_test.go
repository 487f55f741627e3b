package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbradar/arbradar/internal/domain"
)

func webhookServer(t *testing.T, status int) (*httptest.Server, *[]webhookPayload) {
	t.Helper()
	var received []webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received = append(received, p)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func TestWebhookDeliversToUserURL(t *testing.T) {
	srv, received := webhookServer(t, http.StatusOK)
	ch := NewWebhookChannel("")

	user := domain.UserProfile{ID: "u1", Webhook: srv.URL}
	require.NoError(t, ch.Deliver(context.Background(), user, alertOpp()))

	require.Len(t, *received, 1)
	got := (*received)[0]
	assert.Equal(t, "opportunity", got.Event)
	assert.Equal(t, "a1b2", got.Opportunity.ID)
	assert.WithinDuration(t, time.Now(), got.SentAt, time.Minute)
}

func TestWebhookFallsBackToDefaultURL(t *testing.T) {
	srv, received := webhookServer(t, http.StatusOK)
	ch := NewWebhookChannel(srv.URL)

	require.NoError(t, ch.Deliver(context.Background(), domain.UserProfile{ID: "u1"}, alertOpp()))
	assert.Len(t, *received, 1)
}

func TestWebhookNoTarget(t *testing.T) {
	ch := NewWebhookChannel("")
	err := ch.Deliver(context.Background(), domain.UserProfile{ID: "u1"}, alertOpp())
	require.ErrorIs(t, err, ErrNoTarget)
}

func TestWebhookNon2xxStatus(t *testing.T) {
	srv, _ := webhookServer(t, http.StatusBadGateway)
	ch := NewWebhookChannel("")

	user := domain.UserProfile{ID: "u1", Webhook: srv.URL}
	err := ch.Deliver(context.Background(), user, alertOpp())
	require.ErrorContains(t, err, "unexpected status 502")
}
