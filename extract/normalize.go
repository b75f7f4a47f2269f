// Package extract turns raw completion text into structured records. It
// holds the output normalizer, the balanced-bracket scanner, and the ordered
// fallback chain of extraction strategies.
package extract

import (
	"regexp"
	"strings"
)

var (
	roleEcho    = regexp.MustCompile(`(?i)^\s*(?:assistant|ai|bot|response|answer|output)\s*:[ \t]*`)
	blankRuns   = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	controlRepl = strings.NewReplacer("\x00", "", "\uFFFD", "", "\uFEFF", "")
)

// StripControl removes NUL, U+FFFD and byte-order marks.
func StripControl(s string) string {
	return controlRepl.Replace(s)
}

// Normalize prepares raw completion text for JSON extraction. It removes
// control characters, role-echo prefixes and code fences, and when the text
// does not look like a JSON document but contains a brace or bracket, drops
// the conversational prefix before it. The input is not modified.
func Normalize(raw string) string {
	s := strings.TrimSpace(StripControl(raw))
	s = stripRoleEcho(s)
	s = stripFence(s)
	if !LooksLikeJSON(s) {
		if i := strings.IndexAny(s, "{["); i > 0 {
			s = s[i:]
		}
	}
	return strings.TrimSpace(s)
}

// CleanProse applies the same hygiene as Normalize for free-text answers,
// without the JSON prefix cut, and collapses runs of blank lines.
func CleanProse(raw string) string {
	s := strings.TrimSpace(StripControl(raw))
	s = stripRoleEcho(s)
	s = stripFence(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// LooksLikeJSON reports whether trimmed text starts and ends with a matching
// brace or bracket pair.
func LooksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func stripRoleEcho(s string) string {
	for i := 0; i < 3; i++ {
		loc := roleEcho.FindStringIndex(s)
		if loc == nil {
			break
		}
		s = strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// stripFence removes an opening ``` line (with any language tag) and the
// closing fence when the text starts with one.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimRight(s, " \t\r\n")
	if i := strings.LastIndex(s, "```"); i >= 0 && strings.TrimSpace(s[i+3:]) == "" {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
