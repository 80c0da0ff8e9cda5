package executor

import (
	"fmt"
	"regexp"
	"strings"
)

var interpPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Interpolate substitutes every {{a.b.c}} occurrence in s against view,
// a read-only dotted-path lookup over variables/collected_data/session
// (spec §4.5 "Interpolation"). Missing paths yield an empty string.
func Interpolate(s string, view map[string]interface{}) string {
	return interpPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(interpPattern.FindStringSubmatch(match)[1])
		v, ok := lookupPath(view, path)
		if !ok {
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
}

// InterpolateConfig walks a config map, interpolating every string value
// and string found inside []interface{}/map[string]interface{} leaves.
func InterpolateConfig(config map[string]interface{}, view map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		out[k] = interpolateValue(v, view)
	}
	return out
}

func interpolateValue(v interface{}, view map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return Interpolate(val, view)
	case map[string]interface{}:
		return InterpolateConfig(val, view)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = interpolateValue(item, view)
		}
		return out
	default:
		return v
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

// ContextView builds the read-only lookup root used by Interpolate and by
// flow condition evaluation: {variables, collected_data, session}.
func ContextView(fctx *FlowContext, session map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"variables":      fctx.Variables,
		"collected_data": fctx.CollectedData,
		"session":        session,
	}
}
