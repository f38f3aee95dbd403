package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/good-yellow-bee/lynx/internal/models"
)

// DiscordNotifier sends alerts to a Discord channel webhook.
type DiscordNotifier struct {
	config     DiscordConfig
	webhookURL string
	httpClient *http.Client
}

// NewDiscordNotifier creates a new Discord notifier posting to baseURL.
func NewDiscordNotifier(config DiscordConfig, baseURL string, client *http.Client) (*DiscordNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, &ConfigError{Type: config.Type(), Reason: err.Error()}
	}
	if baseURL == "" {
		baseURL = DefaultDiscordBaseURL
	}

	return &DiscordNotifier{
		config:     config,
		webhookURL: strings.TrimRight(baseURL, "/") + "/" + config.WebhookID + "/" + config.Token,
		httpClient: client,
	}, nil
}

// Name returns "discord".
func (d *DiscordNotifier) Name() string {
	return "discord"
}

// Send sends an alert to Discord.
func (d *DiscordNotifier) Send(ctx context.Context, msg *Message) error {
	return postJSON(ctx, d.httpClient, "discord", d.webhookURL, d.buildPayload(msg))
}

// Close is a no-op for Discord notifier.
func (d *DiscordNotifier) Close() error {
	return nil
}

type discordMessage struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (d *DiscordNotifier) buildPayload(msg *Message) discordMessage {
	embed := discordEmbed{
		Title:       truncate(fmt.Sprintf("[%s] %s", strings.ToUpper(string(msg.Severity)), msg.Title()), 256),
		Description: truncate(msg.Description, 4096),
		Color:       discordColor(msg.Severity),
		Timestamp:   msg.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}

	if msg.Expression != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "Condition", Value: msg.Expression})
	}
	for _, r := range msg.Values {
		// Discord caps embeds at 25 fields.
		if len(embed.Fields) == 25 {
			break
		}
		embed.Fields = append(embed.Fields, discordField{Name: r.Field, Value: formatValue(r.Value), Inline: true})
	}

	return discordMessage{
		Username: d.config.Username,
		Embeds:   []discordEmbed{embed},
	}
}

// discordColor converts the severity color to Discord's integer form.
func discordColor(severity models.Severity) int {
	c, err := strconv.ParseInt(strings.TrimPrefix(severityColor(severity), "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(c)
}
