package alerting

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Operator is a comparison operator in a rule expression.
type Operator string

const (
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
	OpGreater  Operator = ">"
	OpLess     Operator = "<"
)

// Connector joins a comparison to the result accumulated so far.
type Connector string

const (
	ConnectorAnd Connector = "AND"
	ConnectorOr  Connector = "OR"
)

// FieldTemp fans out over every component temperature of a snapshot.
const FieldTemp = "temp"

// tempPrefix selects a single component by label, e.g. "temp.cpu1".
const tempPrefix = FieldTemp + "."

// knownFields lists the scalar fields a comparison may reference.
var knownFields = map[string]bool{
	"cpu.usage":         true,
	"memory.usage":      true,
	"memory.used":       true,
	"memory.total":      true,
	"load.one":          true,
	"load.five":         true,
	"load.fifteen":      true,
	"network.in":        true,
	"network.out":       true,
	"uptime":            true,
	"docker.containers": true,
	"disk.usage":        true,
	"disk.used":         true,
	"disk.space":        true,
	"disk.read":         true,
	"disk.write":        true,
	FieldTemp:           true,
}

// IsKnownField reports whether field can appear on the left of a comparison.
func IsKnownField(field string) bool {
	if knownFields[field] {
		return true
	}
	return strings.HasPrefix(field, tempPrefix) && len(field) > len(tempPrefix)
}

// IsDiskField reports whether field is resolved from the root disk sample.
func IsDiskField(field string) bool {
	return strings.HasPrefix(field, "disk.")
}

// isFanOut reports whether field may resolve to several values.
func isFanOut(field string) bool {
	return field == FieldTemp || strings.HasPrefix(field, tempPrefix)
}

// Comparison is a single "field op value" clause.
type Comparison struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// String returns the canonical text of the comparison.
func (c Comparison) String() string {
	return c.Field + " " + string(c.Operator) + " " + strconv.FormatFloat(c.Value, 'f', -1, 64)
}

// Clause is a comparison together with the connector that joins it to the
// previous result. The first clause of an expression has no connector.
type Clause struct {
	Connector Connector `json:"connector,omitempty"`
	Comparison
}

// Expression is a parsed rule predicate: a flat chain of clauses reduced
// strictly left to right. There is no operator precedence and no grouping,
// so "a OR b AND c" evaluates as "(a OR b) AND c".
type Expression struct {
	Raw     string   `json:"raw"`
	Clauses []Clause `json:"clauses"`
}

// ParseError reports a malformed rule expression.
type ParseError struct {
	Expression string
	// Clause is the zero-based index of the offending clause, or -1 when
	// the error concerns the expression as a whole.
	Clause int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Clause < 0 {
		return fmt.Sprintf("invalid expression %q: %s", e.Expression, e.Reason)
	}
	return fmt.Sprintf("invalid expression %q: clause %d: %s", e.Expression, e.Clause+1, e.Reason)
}

// ParseExpression parses raw into an Expression.
//
// The expression is split on the literal tokens " AND " and " OR " in order
// of occurrence. Each resulting clause must contain exactly three
// whitespace-separated tokens: a known field, one of = != > <, and a number.
func ParseExpression(raw string) (*Expression, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, &ParseError{Expression: raw, Clause: -1, Reason: "expression is empty"}
	}

	expr := &Expression{Raw: raw}
	connector := Connector("")
	for i := 0; ; i++ {
		part, next, rest := splitClause(text)

		cmp, err := parseComparison(part)
		if err != nil {
			return nil, &ParseError{Expression: raw, Clause: i, Reason: err.Error()}
		}
		expr.Clauses = append(expr.Clauses, Clause{Connector: connector, Comparison: cmp})

		if next == "" {
			break
		}
		connector = next
		text = rest
	}

	return expr, nil
}

// splitClause returns the text before the first connector, the connector
// itself and the remaining text. next is empty when no connector remains.
func splitClause(text string) (part string, next Connector, rest string) {
	and := strings.Index(text, " AND ")
	or := strings.Index(text, " OR ")

	switch {
	case and < 0 && or < 0:
		return text, "", ""
	case or < 0 || (and >= 0 && and < or):
		return text[:and], ConnectorAnd, text[and+len(" AND "):]
	default:
		return text[:or], ConnectorOr, text[or+len(" OR "):]
	}
}

func parseComparison(text string) (Comparison, error) {
	tokens := strings.Fields(text)
	if len(tokens) != 3 {
		return Comparison{}, fmt.Errorf("expected \"field operator value\", got %d tokens", len(tokens))
	}

	field, op, literal := tokens[0], Operator(tokens[1]), tokens[2]

	if !IsKnownField(field) {
		return Comparison{}, fmt.Errorf("unknown field %q", field)
	}

	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpLess:
	default:
		return Comparison{}, fmt.Errorf("unknown operator %q", op)
	}

	value, err := strconv.ParseFloat(literal, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return Comparison{}, fmt.Errorf("value %q is not a number", literal)
	}

	return Comparison{Field: field, Operator: op, Value: value}, nil
}

// String returns the canonical text of the expression.
func (e *Expression) String() string {
	var b strings.Builder
	for i, c := range e.Clauses {
		if i > 0 {
			b.WriteString(" ")
			b.WriteString(string(c.Connector))
			b.WriteString(" ")
		}
		b.WriteString(c.Comparison.String())
	}
	return b.String()
}

// Fields returns the distinct fields referenced by the expression in order
// of first appearance.
func (e *Expression) Fields() []string {
	seen := make(map[string]bool, len(e.Clauses))
	fields := make([]string, 0, len(e.Clauses))
	for _, c := range e.Clauses {
		if !seen[c.Field] {
			seen[c.Field] = true
			fields = append(fields, c.Field)
		}
	}
	return fields
}

// NeedsDisk reports whether any clause reads the root disk sample.
func (e *Expression) NeedsDisk() bool {
	for _, c := range e.Clauses {
		if IsDiskField(c.Field) {
			return true
		}
	}
	return false
}

// Evaluate reduces the chain left to right against r. A comparison whose
// field cannot be resolved evaluates to false.
func (e *Expression) Evaluate(r FieldResolver) bool {
	result := false
	for i, c := range e.Clauses {
		v := c.evaluate(r)
		if i == 0 {
			result = v
			continue
		}
		switch c.Connector {
		case ConnectorAnd:
			result = result && v
		case ConnectorOr:
			result = result || v
		}
	}
	return result
}

func (c Comparison) evaluate(r FieldResolver) bool {
	if isFanOut(c.Field) {
		for _, v := range r.LookupAll(c.Field) {
			if compare(v, c.Operator, c.Value) {
				return true
			}
		}
		return false
	}

	v, ok := r.Lookup(c.Field)
	if !ok {
		return false
	}
	return compare(v, c.Operator, c.Value)
}

// compare applies op. Equality is exact; integers below 2^53 are exact in
// float64, which covers every counter a snapshot carries.
func compare(v float64, op Operator, target float64) bool {
	switch op {
	case OpEqual:
		return v == target
	case OpNotEqual:
		return v != target
	case OpGreater:
		return v > target
	case OpLess:
		return v < target
	default:
		return false
	}
}
