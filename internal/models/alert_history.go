package models

import "time"

// AlertHistory is an immutable record of a rule firing on a system.
type AlertHistory struct {
	ID       string `json:"id"`
	SystemID string `json:"system_id"`
	// AlertRuleID is empty once the rule has been deleted; RuleName and
	// Severity keep the audit trail readable.
	AlertRuleID string   `json:"alert_rule_id,omitempty"`
	RuleName    string   `json:"rule_name"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	// SourceTime is the timestamp of the snapshot that triggered the rule.
	SourceTime  time.Time `json:"source_time"`
	TriggeredAt time.Time `json:"triggered_at"`
}
