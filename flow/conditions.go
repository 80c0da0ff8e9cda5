package flow

import (
	"strconv"
	"strings"
)

// evalCondition evaluates the small sandboxed expression language of
// spec §4.5/§3.2: boolean combinations (&&, ||) of equality
// (`a.b == "x"`), existence (`exists(a.b)`), and negation (`!`) over
// dotted paths into view. No arbitrary code execution is possible — the
// grammar below is the entire surface.
func evalCondition(expr string, view map[string]interface{}) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}

	if strings.Contains(expr, "||") {
		for _, part := range strings.Split(expr, "||") {
			if evalCondition(part, view) {
				return true
			}
		}
		return false
	}
	if strings.Contains(expr, "&&") {
		for _, part := range strings.Split(expr, "&&") {
			if !evalCondition(part, view) {
				return false
			}
		}
		return true
	}

	if strings.HasPrefix(expr, "!") {
		return !evalCondition(strings.TrimSpace(expr[1:]), view)
	}

	if strings.HasPrefix(expr, "exists(") && strings.HasSuffix(expr, ")") {
		path := strings.TrimSuffix(strings.TrimPrefix(expr, "exists("), ")")
		_, ok := lookupPath(view, strings.TrimSpace(path))
		return ok
	}

	if idx := strings.Index(expr, "=="); idx >= 0 {
		left := strings.TrimSpace(expr[:idx])
		right := strings.TrimSpace(expr[idx+2:])
		return compareEqual(left, right, view)
	}
	if idx := strings.Index(expr, "!="); idx >= 0 {
		left := strings.TrimSpace(expr[:idx])
		right := strings.TrimSpace(expr[idx+2:])
		return !compareEqual(left, right, view)
	}

	// Bare path: truthy if it resolves and is not a zero value.
	v, ok := lookupPath(view, expr)
	if !ok {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	default:
		return v != nil
	}
}

func compareEqual(left, right string, view map[string]interface{}) bool {
	leftVal := resolveOperand(left, view)
	rightVal := resolveOperand(right, view)
	return leftVal == rightVal
}

// resolveOperand resolves a dotted path against view, or treats the
// operand as a literal (stripping quotes) when it doesn't resolve.
func resolveOperand(operand string, view map[string]interface{}) string {
	unquoted := strings.Trim(operand, `"'`)
	if unquoted != operand {
		return unquoted
	}
	if v, ok := lookupPath(view, operand); ok {
		return toComparableString(v)
	}
	return operand
}

func toComparableString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

func lookupPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = root
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
