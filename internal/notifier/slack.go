package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/good-yellow-bee/lynx/internal/models"
)

// SlackNotifier sends alerts to Slack via incoming webhook.
type SlackNotifier struct {
	config     SlackConfig
	webhookURL string
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier posting to baseURL.
func NewSlackNotifier(config SlackConfig, baseURL string, client *http.Client) (*SlackNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, &ConfigError{Type: config.Type(), Reason: err.Error()}
	}
	if baseURL == "" {
		baseURL = DefaultSlackBaseURL
	}

	return &SlackNotifier{
		config:     config,
		webhookURL: strings.TrimRight(baseURL, "/") + "/" + config.WebhookPath(),
		httpClient: client,
	}, nil
}

// Name returns "slack".
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send sends an alert to Slack.
func (s *SlackNotifier) Send(ctx context.Context, msg *Message) error {
	return postJSON(ctx, s.httpClient, "slack", s.webhookURL, s.buildPayload(msg))
}

// Close is a no-op for Slack notifier.
func (s *SlackNotifier) Close() error {
	return nil
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Username string       `json:"username,omitempty"`
	Text     string       `json:"text"`
	Blocks   []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildPayload builds the Slack Block Kit message payload.
func (s *SlackNotifier) buildPayload(msg *Message) slackMessage {
	emoji := severityEmoji(msg.Severity)
	timestamp := msg.Timestamp.UTC().Format("2006-01-02 15:04:05 MST")

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  truncate(fmt.Sprintf("%s %s", emoji, msg.Title()), 150),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Severity:*\n%s %s", emoji, strings.ToUpper(string(msg.Severity))),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Time:*\n%s", timestamp),
				},
			},
		},
	}

	if msg.Expression != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Condition:*\n`%s`", msg.Expression),
			},
		})
	}

	if len(msg.Values) > 0 {
		fields := make([]slackText, 0, len(msg.Values))
		for _, r := range msg.Values {
			// Slack rejects sections with more than 10 fields.
			if len(fields) == 10 {
				break
			}
			fields = append(fields, slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*%s:*\n%s", r.Field, formatValue(r.Value)),
			})
		}
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}

	if msg.Description != "" {
		blocks = append(blocks, slackBlock{
			Type: "context",
			Elements: []slackText{
				{
					Type: "mrkdwn",
					Text: truncate(msg.Description, 2000),
				},
			},
		})
	}

	return slackMessage{
		Username: s.config.BotName,
		Text:     fmt.Sprintf("[%s] %s", strings.ToUpper(string(msg.Severity)), msg.Title()),
		Blocks:   blocks,
	}
}

// severityEmoji returns an emoji for the severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "\U0001F534" // red circle
	case models.SeverityHigh:
		return "\U0001F7E0" // orange circle
	case models.SeverityMedium:
		return "\U0001F7E1" // yellow circle
	case models.SeverityLow:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}
