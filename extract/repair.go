package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var smartQuotes = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
	"‘", "'", "’", "'",
)

// Repair applies light JSON-ish fixes to near-JSON model output: smart quotes
// become straight quotes, trailing commas before } or ] are removed, and raw
// line breaks inside strings are escaped.
func Repair(s string) string {
	s = smartQuotes.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '\n':
				b.WriteString(`\n`)
				continue
			case c == '\r':
				continue
			case c == '\t':
				b.WriteString(`\t`)
				continue
			}
			b.WriteByte(c)
			continue
		}

		switch c {
		case '"':
			inString = true
		case ',':
			if next := nextNonSpace(s, i+1); next == '}' || next == ']' {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func nextNonSpace(s string, from int) byte {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return s[i]
	}
	return 0
}

// ParseObject decodes candidate into a JSON object. The candidate is first
// checked as-is; only invalid text goes through Repair. A top-level array
// holding exactly one object is unwrapped. It returns the text that parsed.
func ParseObject(candidate string) (map[string]any, string, error) {
	text := strings.TrimSpace(candidate)
	if !gjson.Valid(text) {
		text = Repair(text)
		if !gjson.Valid(text) {
			return nil, "", fmt.Errorf("not valid JSON after repair")
		}
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, "", err
	}
	switch t := v.(type) {
	case map[string]any:
		return t, text, nil
	case []any:
		if len(t) == 1 {
			if obj, ok := t[0].(map[string]any); ok {
				return obj, text, nil
			}
		}
	}
	if gjson.Parse(text).IsArray() {
		return nil, "", fmt.Errorf("top-level JSON value is an array, not an object")
	}
	return nil, "", fmt.Errorf("top-level JSON value is not an object")
}
