package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/teilomillet/lectern/schema"
)

// labelPattern matches any of the schema's labels followed by a colon,
// tolerating markdown emphasis and list markers around the label.
func labelPattern(def *schema.Definition) *regexp.Regexp {
	labels := make([]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		labels = append(labels, regexp.QuoteMeta(f.Label))
	}
	// Longest first so "Memory Verse" wins over "Verse".
	sort.Slice(labels, func(i, j int) bool { return len(labels[i]) > len(labels[j]) })
	return regexp.MustCompile(`(?i)(?:^|[^\w])[*_#>\- \t]*\**(` + strings.Join(labels, "|") + `)\**[ \t]*:\**[ \t]*`)
}

// ExtractLabeled scans text for "Label: value" pairs using the schema's labels.
// Each value runs up to the next recognized label or the end of the text.
// Labels that appear more than once keep their first value.
func ExtractLabeled(def *schema.Definition, text string) map[string]any {
	if def == nil || len(def.Fields) == 0 {
		return nil
	}
	re := labelPattern(def)
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make(map[string]any)
	for i, m := range matches {
		name, ok := def.Lookup(text[m[2]:m[3]])
		if !ok {
			continue
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		if _, seen := out[name]; seen {
			continue
		}
		if value := trimValue(text[m[1]:end]); value != "" {
			out[name] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func trimValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "*_ \t")
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	for _, pair := range [][2]string{{"“", "”"}, {"‘", "’"}} {
		if strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) && len(s) > len(pair[0])+len(pair[1]) {
			s = strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	return s
}
