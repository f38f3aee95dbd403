package notifier

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/lynx/internal/models"
)

// Reading is one field value that contributed to a triggered rule.
type Reading struct {
	Field string
	Value float64
}

// Message is a rendered-ready alert notification.
type Message struct {
	RuleID      string
	RuleName    string
	Description string
	Severity    models.Severity
	SystemID    string
	SystemName  string
	Expression  string
	Values      []Reading
	Timestamp   time.Time
}

// Title returns the one-line summary used as email subject suffix and chat header.
func (m *Message) Title() string {
	if m.SystemName == "" {
		return m.RuleName
	}
	return fmt.Sprintf("%s on %s", m.RuleName, m.SystemName)
}

// Text returns a plain text body suitable for chat destinations.
func (m *Message) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(m.Severity)), m.Title())
	if m.Description != "" {
		b.WriteString(m.Description)
		b.WriteString("\n")
	}
	if m.Expression != "" {
		fmt.Fprintf(&b, "Condition: %s\n", m.Expression)
	}
	for _, r := range m.Values {
		fmt.Fprintf(&b, "%s = %s\n", r.Field, formatValue(r.Value))
	}
	fmt.Fprintf(&b, "Time: %s", m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SampleMessage returns the message sent by the notifier test endpoint.
func SampleMessage(now time.Time) *Message {
	return &Message{
		RuleName:    "Test notification",
		Description: "This is a test message from Lynx Monitor.",
		Severity:    models.SeverityLow,
		SystemName:  "lynx",
		Expression:  "cpu.usage > 90",
		Values:      []Reading{{Field: "cpu.usage", Value: 42}},
		Timestamp:   now,
	}
}
