package continuation

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/teilomillet/lectern/config"
	"github.com/teilomillet/lectern/extract"
)

// Reasons a Checker reports text as incomplete.
const (
	ReasonEmpty          = "empty"
	ReasonTooShort       = "too_short"
	ReasonFewItems       = "few_items"
	ReasonUnterminated   = "unterminated"
	ReasonUnclosedMarker = "unclosed_marker"
	ReasonUnbalanced     = "unbalanced"
)

// Checker decides whether accumulated output looks truncated.
type Checker interface {
	// Incomplete returns true and a reason when text needs a continuation.
	Incomplete(text string) (bool, string)
}

var (
	listItem = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+\x{2022}]|\d+[.)])[ \t]+\S`)
	// closers that may follow the final punctuation of a sentence.
	trailingClosers = "\"')]*_”’"
)

// ProseChecker applies the free-text completeness heuristic.
type ProseChecker struct {
	MinWords   int
	MinBullets int
	// ExpectList requires at least MinBullets bulleted or numbered items.
	ExpectList bool
}

// NewProseChecker returns a checker with the thresholds from cfg.
func NewProseChecker(cfg config.ContinuationConfig, expectList bool) ProseChecker {
	return ProseChecker{MinWords: cfg.MinWords, MinBullets: cfg.MinBullets, ExpectList: expectList}
}

// Incomplete implements Checker.
func (p ProseChecker) Incomplete(text string) (bool, string) {
	s := extract.CleanProse(text)
	if s == "" {
		return true, ReasonEmpty
	}
	if len(strings.Fields(s)) < p.MinWords {
		return true, ReasonTooShort
	}
	if p.ExpectList && CountItems(s) < p.MinBullets {
		return true, ReasonFewItems
	}
	if !EndsSentence(s) {
		return true, ReasonUnterminated
	}
	return false, ""
}

// CountItems returns the number of bulleted or numbered lines in s.
func CountItems(s string) int {
	return len(listItem.FindAllStringIndex(s, -1))
}

// EndsSentence reports whether s ends on sentence punctuation, allowing
// closing quotes, brackets and markdown emphasis after it.
func EndsSentence(s string) bool {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	s = strings.TrimRight(s, trailingClosers)
	if s == "" {
		return false
	}
	switch r := []rune(s)[len([]rune(s))-1]; r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// JSONChecker detects truncated structured output: an opening marker with no
// closing marker after it, or a JSON value that was opened but never closed.
type JSONChecker struct {
	OpenMarker  string
	CloseMarker string
}

// NewJSONChecker returns a checker for the markers in gen.
func NewJSONChecker(gen config.GenerationConfig) JSONChecker {
	return JSONChecker{OpenMarker: gen.OpenMarker, CloseMarker: gen.CloseMarker}
}

// Incomplete implements Checker.
func (j JSONChecker) Incomplete(text string) (bool, string) {
	s := extract.StripControl(text)
	if strings.TrimSpace(s) == "" {
		return true, ReasonEmpty
	}
	if j.OpenMarker != "" {
		if i := strings.Index(s, j.OpenMarker); i >= 0 {
			if !strings.Contains(s[i+len(j.OpenMarker):], j.CloseMarker) {
				return true, ReasonUnclosedMarker
			}
			return false, ""
		}
	}
	if _, ok := extract.FindBalanced(s); !ok && extract.HasOpenCandidate(s) {
		return true, ReasonUnbalanced
	}
	return false, ""
}
