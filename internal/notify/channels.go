package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chainwatch/chainwatch/pkg/alerting"
	"github.com/chainwatch/chainwatch/pkg/errors"
)

// Channel delivers one alert to one destination
type Channel interface {
	Name() string
	Deliver(ctx context.Context, alert *alerting.Alert) error
}

// WebhookChannel POSTs the alert as JSON to a configured URL
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook delivery channel
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the channel name
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// Deliver sends the alert payload
func (w *WebhookChannel) Deliver(ctx context.Context, alert *alerting.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return errors.NewInternalError("failed to marshal alert payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return errors.NewInternalError("failed to create webhook request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.NewExternalError("webhook", "webhook delivery failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewExternalError("webhook", fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}

	return nil
}

// slackMessage is the Slack incoming-webhook payload
type slackMessage struct {
	Text        string            `json:"text,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackChannel delivers alerts to a Slack incoming webhook
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel creates a Slack delivery channel
func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the channel name
func (s *SlackChannel) Name() string {
	return "slack"
}

// Deliver formats and sends the alert
func (s *SlackChannel) Deliver(ctx context.Context, alert *alerting.Alert) error {
	payload, err := json.Marshal(s.buildMessage(alert))
	if err != nil {
		return errors.NewInternalError("failed to marshal slack message").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return errors.NewInternalError("failed to create slack request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewExternalError("slack", "slack delivery failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewExternalError("slack", fmt.Sprintf("slack API returned status %d", resp.StatusCode))
	}

	return nil
}

func (s *SlackChannel) buildMessage(alert *alerting.Alert) slackMessage {
	attachment := slackAttachment{
		Title:     alert.Title,
		Text:      alert.Message,
		Footer:    "chainwatch",
		Timestamp: alert.TriggeredAt.Unix(),
	}

	switch alert.Severity {
	case alerting.SeverityCritical:
		attachment.Color = "danger"
	case alerting.SeverityWarning:
		attachment.Color = "warning"
	default:
		attachment.Color = "#36a64f"
	}

	for _, key := range []string{"metric", "value", "threshold"} {
		if v, ok := alert.Metadata[key]; ok {
			attachment.Fields = append(attachment.Fields, slackField{
				Title: key,
				Value: v,
				Short: true,
			})
		}
	}

	icon := ":information_source:"
	if alert.Severity == alerting.SeverityCritical {
		icon = ":rotating_light:"
	} else if alert.Severity == alerting.SeverityWarning {
		icon = ":warning:"
	}

	return slackMessage{
		Text:        alert.Title,
		IconEmoji:   icon,
		Attachments: []slackAttachment{attachment},
	}
}
