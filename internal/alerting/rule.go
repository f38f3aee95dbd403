package alerting

import (
	"log"
	"sync"
	"time"

	"github.com/good-yellow-bee/lynx/internal/metrics"
	"github.com/good-yellow-bee/lynx/internal/models"
)

// DefaultCooldown applies to rules without an explicit cooldown when no
// other default is configured.
const DefaultCooldown = 30 * time.Minute

// CooldownPolicy resolves the cooldown of a rule: the rule's own value,
// then the severity default, then Default.
type CooldownPolicy struct {
	Default    time.Duration
	BySeverity map[models.Severity]time.Duration
}

// DefaultCooldownPolicy returns a policy using DefaultCooldown for every rule.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{Default: DefaultCooldown}
}

// For returns the cooldown for rule. Zero means always fire.
func (p CooldownPolicy) For(rule *models.AlertRule) time.Duration {
	if rule.Cooldown != nil {
		return *rule.Cooldown
	}
	if d, ok := p.BySeverity[rule.Severity]; ok {
		return d
	}
	return p.Default
}

// Cooling reports whether a trigger at sourceTime falls inside the cooldown
// opened by last. A nil last never suppresses.
func (p CooldownPolicy) Cooling(rule *models.AlertRule, last *models.AlertHistory, sourceTime time.Time) bool {
	if last == nil {
		return false
	}
	cd := p.For(rule)
	if cd <= 0 {
		return false
	}
	return sourceTime.Sub(last.SourceTime) < cd
}

type compiledRule struct {
	raw  string
	expr *Expression
	err  error
}

// ruleCache keeps parsed expressions keyed by rule id. An entry is reused
// only while the rule's expression text is unchanged.
type ruleCache struct {
	mu    sync.Mutex
	rules map[string]compiledRule
}

func newRuleCache() *ruleCache {
	return &ruleCache{rules: make(map[string]compiledRule)}
}

// get returns the parsed expression of rule. Parse failures are cached
// and logged once per expression text.
func (c *ruleCache) get(rule *models.AlertRule) (*Expression, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cr, ok := c.rules[rule.ID]; ok && cr.raw == rule.Expression {
		return cr.expr, cr.err
	}

	expr, err := ParseExpression(rule.Expression)
	if err != nil {
		log.Printf("alert rule expression invalid: rule=%s error=%v", rule.ID, err)
		metrics.ExpressionErrorsTotal.Inc()
	}
	c.rules[rule.ID] = compiledRule{raw: rule.Expression, expr: expr, err: err}
	return expr, err
}

func (c *ruleCache) forget(ruleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rules, ruleID)
}

// systemLocks serializes evaluation per system. Entries are removed once
// no goroutine holds or waits on them.
type systemLocks struct {
	mu    sync.Mutex
	locks map[string]*systemLock
}

type systemLock struct {
	mu   sync.Mutex
	refs int
}

func newSystemLocks() *systemLocks {
	return &systemLocks{locks: make(map[string]*systemLock)}
}

func (s *systemLocks) lock(systemID string) func() {
	s.mu.Lock()
	l, ok := s.locks[systemID]
	if !ok {
		l = &systemLock{}
		s.locks[systemID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, systemID)
		}
		s.mu.Unlock()
	}
}

func (s *systemLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
