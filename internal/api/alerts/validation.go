package alerts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/lynx/internal/models"
)

// MaxWindow bounds windowed rule evaluation.
const MaxWindow = 24 * time.Hour

func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > 100 {
		return errors.New("name must be 100 characters or less")
	}
	return nil
}

func ValidateSeverity(s string) (models.Severity, error) {
	switch s {
	case "low", "medium", "high", "critical":
		return models.Severity(s), nil
	default:
		return "", errors.New("severity must be 'low', 'medium', 'high', or 'critical'")
	}
}

func ValidateExpression(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return errors.New("expression is required")
	}
	if len(expression) > 1000 {
		return errors.New("expression must be 1000 characters or less")
	}
	return nil
}

// ValidateCooldown converts seconds to a cooldown. nil keeps the default.
func ValidateCooldown(seconds *int64) (*time.Duration, error) {
	if seconds == nil {
		return nil, nil
	}
	if *seconds < 0 {
		return nil, errors.New("cooldown_seconds must not be negative")
	}
	d := time.Duration(*seconds) * time.Second
	return &d, nil
}

func ValidateWindow(seconds int64) (time.Duration, error) {
	if seconds < 0 {
		return 0, errors.New("window_seconds must not be negative")
	}
	d := time.Duration(seconds) * time.Second
	if d > MaxWindow {
		return 0, fmt.Errorf("window_seconds must be at most %d", int64(MaxWindow/time.Second))
	}
	return d, nil
}
