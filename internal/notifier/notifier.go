// Package notifier delivers alert notifications to email, Slack, Discord
// and Telegram destinations described by URL-encoded configs.
package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "email", "slack").
	Name() string
	// Send sends an alert notification.
	Send(ctx context.Context, msg *Message) error
	// Close releases any resources.
	Close() error
}

// Options configures the senders built by New.
type Options struct {
	HTTPClient *http.Client
	Endpoints  Endpoints
	Templates  *Templates
}

// New builds the sender for a parsed config.
func New(cfg Config, opts Options) (Notifier, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	endpoints := opts.Endpoints.withDefaults()

	switch c := cfg.(type) {
	case *EmailConfig:
		return NewEmailNotifier(*c, opts.Templates)
	case *SlackConfig:
		return NewSlackNotifier(*c, endpoints.Slack, client)
	case *DiscordConfig:
		return NewDiscordNotifier(*c, endpoints.Discord, client)
	case *TelegramConfig:
		return NewTelegramNotifier(*c, endpoints.Telegram, client)
	default:
		return nil, fmt.Errorf("unsupported notifier config %T", cfg)
	}
}
