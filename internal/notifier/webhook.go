package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Default webhook base URLs.
const (
	DefaultSlackBaseURL    = "https://hooks.slack.com/services"
	DefaultDiscordBaseURL  = "https://discord.com/api/webhooks"
	DefaultTelegramBaseURL = "https://api.telegram.org"
)

// Endpoints overrides the base URLs of webhook destinations.
type Endpoints struct {
	Slack    string
	Discord  string
	Telegram string
}

func (e Endpoints) withDefaults() Endpoints {
	if e.Slack == "" {
		e.Slack = DefaultSlackBaseURL
	}
	if e.Discord == "" {
		e.Discord = DefaultDiscordBaseURL
	}
	if e.Telegram == "" {
		e.Telegram = DefaultTelegramBaseURL
	}
	e.Slack = strings.TrimRight(e.Slack, "/")
	e.Discord = strings.TrimRight(e.Discord, "/")
	e.Telegram = strings.TrimRight(e.Telegram, "/")
	return e
}

// HTTPStatusError is returned when a webhook responds with a non-2xx status.
type HTTPStatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s API error: status %d, body: %s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed on retry.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// postJSON posts payload to url and checks for a 2xx response.
func postJSON(ctx context.Context, client *http.Client, service, url string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPStatusError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
