package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d{1,2}[.)])\s+`)

// SplitItems breaks list-like text into items: one per line, or per
// semicolon when the text is a single line. Bullet and number prefixes are
// removed and blank items dropped.
func SplitItems(s string) []string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if len(lines) == 1 && strings.Contains(s, ";") {
		lines = strings.Split(s, ";")
	}
	items := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

func toList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := toText(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return SplitItems(t)
	default:
		return []string{toText(t)}
	}
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []string:
		return strings.Join(t, "\n")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := toText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		// Models sometimes nest the value, e.g. {"verse": {"text": "..."}}.
		for _, key := range []string{"text", "value", "content"} {
			if inner, ok := t[key]; ok {
				return toText(inner)
			}
		}
		return fmt.Sprint(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
