// Package tokenizer counts and truncates prompt text against token budgets.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer measures and clips text in model tokens.
type Tokenizer interface {
	CountTokens(text string) int
	// Truncate returns the longest prefix of text holding at most max tokens.
	Truncate(text string, max int) string
}

var _ Tokenizer = Simple{}

// Simple approximates tokens without a vocabulary:
//   - letters and digits form one token per run
//   - each Han character is a token
//   - every other non-space rune is a token
type Simple struct{}

// NewSimple returns the vocabulary-free tokenizer.
func NewSimple() Simple {
	return Simple{}
}

// CountTokens implements Tokenizer.
func (Simple) CountTokens(text string) int {
	n := 0
	forEachToken(text, func(int, int) bool {
		n++
		return true
	})
	return n
}

// Truncate implements Tokenizer.
func (Simple) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	count := 0
	cut := len(text)
	forEachToken(text, func(start, end int) bool {
		count++
		if count > max {
			cut = start
			return false
		}
		return true
	})
	return strings.TrimRightFunc(text[:cut], unicode.IsSpace)
}

// forEachToken reports byte spans of each token until fn returns false.
func forEachToken(s string, fn func(start, end int) bool) {
	wordStart := -1
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case unicode.IsSpace(r):
			if wordStart >= 0 {
				if !fn(wordStart, i) {
					return
				}
				wordStart = -1
			}
		case unicode.Is(unicode.Han, r):
			if wordStart >= 0 {
				if !fn(wordStart, i) {
					return
				}
				wordStart = -1
			}
			if !fn(i, i+size) {
				return
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if wordStart < 0 {
				wordStart = i
			}
		default:
			if wordStart >= 0 {
				if !fn(wordStart, i) {
					return
				}
				wordStart = -1
			}
			if !fn(i, i+size) {
				return
			}
		}
		i += size
	}
	if wordStart >= 0 {
		fn(wordStart, len(s))
	}
}

// Budget splits total tokens evenly across n documents, never below floor.
func Budget(total, n, floor int) int {
	if n <= 0 {
		return total
	}
	per := total / n
	if per < floor {
		return floor
	}
	return per
}
