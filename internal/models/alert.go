package models

import "time"

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// AlertRule is a user-authored predicate over system telemetry.
type AlertRule struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Expression  string   `json:"expression"`
	Severity    Severity `json:"severity"`
	Active      bool     `json:"active"`
	// Cooldown overrides the configured default when set. Zero means always fire.
	Cooldown *time.Duration `json:"cooldown,omitempty"`
	// Window evaluates the rule against the mean over [now-Window, now]
	// instead of the latest snapshot when non-zero.
	Window    time.Duration `json:"window,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewAlertRule creates an active AlertRule with initialized timestamps.
func NewAlertRule(ownerID, name, expression string, severity Severity) *AlertRule {
	now := time.Now()
	return &AlertRule{
		OwnerID:    ownerID,
		Name:       name,
		Expression: expression,
		Severity:   severity,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
