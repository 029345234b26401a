// Package extract recovers a JSON object from noisy oracle output.
//
// Oracle replies routinely wrap the object in markdown fences, surround it with
// prose, or include braces inside string values. Extraction never fails loudly:
// when nothing usable is found the caller gets ok=false and the raw text.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	ferrors "github.com/sweetpotato0/factflow/errors"
)

// Method records which recovery step produced the object.
type Method string

const (
	MethodNone     Method = "none"
	MethodDirect   Method = "direct"
	MethodFenced   Method = "fenced"
	MethodBalanced Method = "balanced"
	MethodRegex    Method = "regex"
)

// Result is the outcome of an extraction attempt.
type Result struct {
	Object map[string]any
	// JSON is the exact object text that parsed.
	JSON   string
	Raw    string
	Method Method
	OK     bool
}

var (
	fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")
	loosePattern = regexp.MustCompile(`(?s)\{.*\}`)
	lazyPattern  = regexp.MustCompile(`(?s)\{.*?\}`)
)

// Extract returns the first JSON object recoverable from text.
func Extract(text string) (map[string]any, bool) {
	res := Parse(text)
	return res.Object, res.OK
}

// Parse runs the recovery chain: direct parse, fenced block, string-aware
// balanced-brace scan, then a loose regex match.
func Parse(text string) Result {
	res := Result{Raw: text, Method: MethodNone}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return res
	}

	if obj, ok := decodeObject(trimmed); ok {
		return res.with(obj, trimmed, MethodDirect)
	}

	for _, m := range fencePattern.FindAllStringSubmatch(trimmed, -1) {
		body := strings.TrimSpace(m[1])
		if obj, ok := decodeObject(body); ok {
			return res.with(obj, body, MethodFenced)
		}
		if candidate, obj, ok := scanBalanced(body); ok {
			return res.with(obj, candidate, MethodFenced)
		}
	}
	// An unterminated fence still deserves a direct retry on its body.
	if strings.HasPrefix(trimmed, "```") {
		body := strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexByte(body, '\n'); idx >= 0 {
			body = body[idx+1:]
		}
		body = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), "```"))
		if obj, ok := decodeObject(body); ok {
			return res.with(obj, body, MethodFenced)
		}
	}

	if candidate, obj, ok := scanBalanced(trimmed); ok {
		return res.with(obj, candidate, MethodBalanced)
	}

	for _, pattern := range []*regexp.Regexp{loosePattern, lazyPattern} {
		if candidate := pattern.FindString(trimmed); candidate != "" {
			if obj, ok := decodeObject(candidate); ok {
				return res.with(obj, candidate, MethodRegex)
			}
		}
	}
	return res
}

// Into extracts an object from text and decodes it into T. A failed
// extraction returns an error wrapping errors.ErrMalformedOutput together
// with the Result so callers can keep the raw text.
func Into[T any](text string) (T, Result, error) {
	var out T
	res := Parse(text)
	if !res.OK {
		return out, res, fmt.Errorf("extract: no JSON object found: %w", ferrors.ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(res.JSON), &out); err != nil {
		return out, res, fmt.Errorf("extract: decode %T: %v: %w", out, err, ferrors.ErrMalformedOutput)
	}
	return out, res, nil
}

func (r Result) with(obj map[string]any, jsonText string, method Method) Result {
	r.Object = obj
	r.JSON = jsonText
	r.Method = method
	r.OK = true
	return r
}

func decodeObject(s string) (map[string]any, bool) {
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// scanBalanced walks every '{' in s and returns the first balanced span that
// decodes. Quotes and escapes are tracked so braces inside string values do
// not affect depth.
func scanBalanced(s string) (string, map[string]any, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > start {
			candidate := s[start : end+1]
			if obj, ok := decodeObject(candidate); ok {
				return candidate, obj, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", nil, false
}

func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
