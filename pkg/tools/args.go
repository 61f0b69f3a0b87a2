package tools

import (
	"fmt"
	"strings"
)

func argString(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func argStringDefault(args map[string]interface{}, key, fallback string) string {
	if s := argString(args, key); s != "" {
		return s
	}
	return fallback
}

// argInt accepts JSON numbers (float64 after decoding) and Go ints.
func argInt(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func argFloat(args map[string]interface{}, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func argBool(args map[string]interface{}, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// argList accepts a JSON array of strings or a comma-separated string.
func argList(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

func argMap(args map[string]interface{}, key string) map[string]interface{} {
	m, _ := args[key].(map[string]interface{})
	return m
}

// requireArgs returns an error message naming the first missing argument,
// or an empty string when all are present.
func requireArgs(args map[string]interface{}, names ...string) string {
	for _, name := range names {
		if argString(args, name) == "" {
			return fmt.Sprintf("%s cannot be empty", name)
		}
	}
	return ""
}
