// Package jsonutil extracts and decodes JSON from model responses that may be
// wrapped in markdown code fences or surrounded by prose.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a response contains no JSON value.
var ErrNoJSON = errors.New("no JSON content found")

// previewLen bounds the response excerpt included in parse errors.
const previewLen = 200

// StripMarkdownFences removes a ```json ... ``` or ``` ... ``` wrapper and
// returns the fenced content, or the trimmed text if it is not fenced.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	rest, ok := strings.CutPrefix(text, "```")
	if !ok {
		return text
	}
	// Drop the info string ("json") on the opening line.
	_, body, ok := strings.Cut(rest, "\n")
	if !ok {
		return text
	}
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}

// ExtractJSON returns the first complete JSON object or array in text. Braces
// inside string literals are ignored, so trailing prose containing "}" does
// not extend the match.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}

	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", fmt.Errorf("mismatched %q at offset %d", c, i)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON starting at offset %d", start)
}

// ParseJSON strips fences, extracts the JSON value and decodes it into T.
func ParseJSON[T any](raw string) (T, error) {
	return decode[T](raw, false)
}

// ParseStrictJSON is ParseJSON but rejects fields T does not declare.
func ParseStrictJSON[T any](raw string) (T, error) {
	return decode[T](raw, true)
}

func decode[T any](raw string, strict bool) (T, error) {
	var result T
	jsonStr, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return result, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(jsonStr)))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&result); err != nil {
		var zero T
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Preview(jsonStr))
	}
	return result, nil
}

// Preview truncates s for inclusion in logs and error messages.
func Preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "..."
}
