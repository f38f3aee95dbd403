package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	config     TelegramConfig
	sendURL    string
	httpClient *http.Client

	// delivered holds the chats that already accepted lastMsg, so a retry
	// of the same message only reaches the chats that failed.
	mu        sync.Mutex
	lastMsg   *Message
	delivered map[string]bool
}

// NewTelegramNotifier creates a new Telegram notifier calling baseURL.
func NewTelegramNotifier(config TelegramConfig, baseURL string, client *http.Client) (*TelegramNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, &ConfigError{Type: config.Type(), Reason: err.Error()}
	}
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}

	return &TelegramNotifier{
		config:     config,
		sendURL:    strings.TrimRight(baseURL, "/") + "/bot" + config.Token + "/sendMessage",
		httpClient: client,
	}, nil
}

// Name returns "telegram".
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

type telegramMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Send sends the alert to every configured chat. Every chat is attempted;
// failures are joined. Calling Send again with the same message skips the
// chats it already reached.
func (t *TelegramNotifier) Send(ctx context.Context, msg *Message) error {
	text := truncate(msg.Text(), 4096)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastMsg != msg {
		t.lastMsg = msg
		t.delivered = make(map[string]bool, len(t.config.Chats))
	}

	var errs []error
	for _, chat := range t.config.Chats {
		if t.delivered[chat] {
			continue
		}
		if err := postJSON(ctx, t.httpClient, "telegram", t.sendURL, telegramMessage{ChatID: chat, Text: text}); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", chat, err))
			continue
		}
		t.delivered[chat] = true
	}
	return errors.Join(errs...)
}

// Close is a no-op for Telegram notifier.
func (t *TelegramNotifier) Close() error {
	return nil
}
