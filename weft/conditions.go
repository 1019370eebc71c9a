// ABOUTME: Condition expression language for branch and loop decisions.
// ABOUTME: Evaluates clauses like "value.status = ok && attempts != 3" against a node's input value.
package weft

import (
	"fmt"
	"strings"
)

// EvaluateCondition evaluates a condition expression against a value.
// Condition grammar: Clause ('&&' Clause)*
// Clause: Key Operator Literal
// Key: 'value' | 'value.' Path | bare dotted path into a map value
// Operator: '=' | '!='
// An empty or whitespace-only condition evaluates to true.
func EvaluateCondition(condition string, value any) bool {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true
	}

	clauses := strings.Split(trimmed, "&&")
	for _, clause := range clauses {
		if !evaluateClause(strings.TrimSpace(clause), value) {
			return false
		}
	}
	return true
}

// evaluateClause evaluates a single "key op literal" clause.
func evaluateClause(clause string, value any) bool {
	// Try != first (longer operator)
	if idx := strings.Index(clause, "!="); idx >= 0 {
		key := strings.TrimSpace(clause[:idx])
		literal := strings.TrimSpace(clause[idx+2:])
		return resolveKey(key, value) != literal
	}

	// Try =
	if idx := strings.Index(clause, "="); idx >= 0 {
		key := strings.TrimSpace(clause[:idx])
		literal := strings.TrimSpace(clause[idx+1:])
		return resolveKey(key, value) == literal
	}

	// No operator found -- clause is malformed, treat as false
	return false
}

// resolveKey resolves a key to its string form from the value.
// "value" -> the whole value
// "value.X" -> field X of a map value
// bare key -> field lookup with the same rules
func resolveKey(key string, value any) string {
	if key == "value" {
		return stringify(value)
	}
	path := strings.TrimPrefix(key, "value.")
	if m, ok := value.(map[string]any); ok {
		if v, found := lookupPath(m, path); found {
			return stringify(v)
		}
	}
	return ""
}

// lookupPath walks a dotted path through nested maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, part := range parts {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// stringify renders a value the way condition literals are written.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// isTruthy reports whether a value counts as "yes" for yes/no routing.
// nil, false, zero numbers, empty strings, "no" and "false" are no;
// everything else is yes.
func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "no" && s != "false" && s != "0"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

// ValidateConditionSyntax checks whether a condition string is syntactically valid.
// Returns true if the condition can be parsed, false otherwise.
func ValidateConditionSyntax(condition string) bool {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return true
	}

	clauses := strings.Split(trimmed, "&&")
	for _, clause := range clauses {
		c := strings.TrimSpace(clause)
		if c == "" {
			return false
		}
		// Must contain = or !=
		if !strings.Contains(c, "=") {
			return false
		}
		hasValidOp := false
		if idx := strings.Index(c, "!="); idx >= 0 {
			key := strings.TrimSpace(c[:idx])
			if key != "" {
				hasValidOp = true
			}
		} else if idx := strings.Index(c, "="); idx >= 0 {
			key := strings.TrimSpace(c[:idx])
			if key != "" {
				hasValidOp = true
			}
		}
		if !hasValidOp {
			return false
		}
	}
	return true
}
