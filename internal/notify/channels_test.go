package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainwatch/pkg/alerting"
)

func testAlert() *alerting.Alert {
	return &alerting.Alert{
		ID:          "a-1",
		ConfigID:    "cfg-1",
		Title:       "High gas price",
		Message:     "gas_price_gwei is 150.0000 (> 100.0000)",
		Severity:    alerting.SeverityCritical,
		Status:      alerting.StatusTriggered,
		TriggeredAt: time.Now(),
		Metadata: map[string]string{
			"metric":    "gas_price_gwei",
			"value":     "150",
			"threshold": "100",
		},
	}
}

func TestWebhookChannelDeliver(t *testing.T) {
	var received alerting.Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, time.Second)
	assert.Equal(t, "webhook", ch.Name())

	require.NoError(t, ch.Deliver(context.Background(), testAlert()))
	assert.Equal(t, "a-1", received.ID)
	assert.Equal(t, alerting.SeverityCritical, received.Severity)
}

func TestWebhookChannelErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, time.Second)
	assert.Error(t, ch.Deliver(context.Background(), testAlert()))
}

func TestSlackChannelDeliver(t *testing.T) {
	var received slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL, time.Second)
	assert.Equal(t, "slack", ch.Name())

	require.NoError(t, ch.Deliver(context.Background(), testAlert()))

	assert.Equal(t, "High gas price", received.Text)
	assert.Equal(t, ":rotating_light:", received.IconEmoji)
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "danger", received.Attachments[0].Color)
	assert.Len(t, received.Attachments[0].Fields, 3)
}

func TestSlackChannelSeverityColors(t *testing.T) {
	ch := NewSlackChannel("http://unused", time.Second)

	alert := testAlert()
	alert.Severity = alerting.SeverityWarning
	assert.Equal(t, "warning", ch.buildMessage(alert).Attachments[0].Color)

	alert.Severity = alerting.SeverityInfo
	assert.Equal(t, "#36a64f", ch.buildMessage(alert).Attachments[0].Color)
}

func TestSlackChannelErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL, time.Second)
	assert.Error(t, ch.Deliver(context.Background(), testAlert()))
}
