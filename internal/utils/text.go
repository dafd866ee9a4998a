// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// TruncationNote is appended to text cut by Truncate.
const TruncationNote = "\n\n[Content truncated due to length...]"

// Truncate caps s at max runes. When it cuts, the note is appended so readers
// can tell the text is partial. It reports whether truncation happened.
//
// Example:
//
//	s, cut := utils.Truncate(transcript, 8000)
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	r := []rune(s)
	return string(r[:max]) + TruncationNote, true
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ExtractJSON returns the first balanced JSON array or object embedded in s,
// or "" when there is none. Code fences and surrounding prose are ignored.
func ExtractJSON(s string) string {
	return ExtractJSONFunc(s, nil)
}

// ExtractJSONFunc is ExtractJSON restricted to fragments accept returns true
// for. Rejected fragments are skipped and scanning resumes inside them, so a
// stray "[1]" in prose does not hide the payload that follows it. A nil accept
// takes any valid fragment.
func ExtractJSONFunc(s string, accept func([]byte) bool) string {
	for i := 0; i < len(s); i++ {
		if s[i] != '[' && s[i] != '{' {
			continue
		}
		end := matchClose(s, i)
		if end <= i {
			continue
		}
		cand := []byte(s[i : end+1])
		if !json.Valid(cand) {
			continue
		}
		if accept == nil || accept(cand) {
			return string(cand)
		}
	}
	return ""
}

// matchClose finds the index closing the bracket at start, honouring strings.
func matchClose(s string, start int) int {
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
