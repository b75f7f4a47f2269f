package extract

import "strings"

// scanState is the balanced-bracket scanner's state. Quote and escape
// tracking only applies inside a candidate; quotes in surrounding prose are
// ignored so an odd apostrophe-like quote cannot swallow the JSON after it.
type scanState struct {
	stack    []int // positions of open brackets
	start    int
	inString bool
	escaped  bool
}

func (st *scanState) reset() {
	st.stack = st.stack[:0]
	st.start = -1
	st.inString = false
	st.escaped = false
}

// scan looks for the first balanced region at or after from. It returns the
// region bounds, or end < 0 and the positions of the openers of the candidate
// still open when the text ran out (empty if none).
func scan(s string, from int) (start, end int, unclosed []int) {
	st := &scanState{start: -1}
	for i := from; i < len(s); i++ {
		c := s[i]
		if st.inString {
			switch {
			case st.escaped:
				st.escaped = false
			case c == '\\':
				st.escaped = true
			case c == '"':
				st.inString = false
			}
			continue
		}

		switch c {
		case '"':
			if len(st.stack) > 0 {
				st.inString = true
			}
		case '{', '[':
			if len(st.stack) == 0 {
				st.start = i
			}
			st.stack = append(st.stack, i)
		case '}', ']':
			if len(st.stack) == 0 {
				continue
			}
			top := s[st.stack[len(st.stack)-1]]
			if (c == '}' && top != '{') || (c == ']' && top != '[') {
				st.reset()
				continue
			}
			st.stack = st.stack[:len(st.stack)-1]
			if len(st.stack) == 0 {
				return st.start, i, nil
			}
		}
	}
	return -1, -1, st.stack
}

// restartAfter returns where to resume after a candidate that never closed.
// Scanning again from just past an unclosed opener reaches the next unclosed
// opener with the same brackets above it, so when no other opener sits
// between the two that scan ends the same way and is skipped.
func restartAfter(s string, unclosed []int) int {
	i := 0
	for ; i+1 < len(unclosed); i++ {
		if strings.ContainsAny(s[unclosed[i]+1:unclosed[i+1]], "{[") {
			break
		}
	}
	return unclosed[i] + 1
}

// FindBalanced returns the first syntactically balanced {...} or [...]
// substring of s. Braces inside JSON strings are ignored, a closer that does
// not match the innermost opener discards the current candidate, and an
// opener that never closes is skipped so the scan can recover from stray
// brackets in surrounding prose.
func FindBalanced(s string) (string, bool) {
	for from := 0; from < len(s); {
		start, end, unclosed := scan(s, from)
		if end >= 0 {
			return s[start : end+1], true
		}
		if len(unclosed) == 0 {
			return "", false
		}
		from = restartAfter(s, unclosed)
	}
	return "", false
}

// HasOpenCandidate reports whether s opens a bracket region that is still
// unclosed at the end of the text, the usual sign of a truncated JSON answer.
func HasOpenCandidate(s string) bool {
	from := 0
	for from < len(s) {
		_, end, unclosed := scan(s, from)
		if end < 0 {
			return len(unclosed) > 0
		}
		from = end + 1
	}
	return false
}
