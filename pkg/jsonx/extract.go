// Package jsonx pulls JSON objects out of free-form model output.
package jsonx

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractObject returns the first balanced, valid JSON object embedded in
// raw, skipping braces that appear inside string literals. It reports false
// when raw holds no such object.
func ExtractObject(raw string) (string, bool) {
	for start := strings.IndexByte(raw, '{'); start >= 0; {
		if end := matchBrace(raw, start); end > start {
			candidate := raw[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, true
			}
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// ObjectOrEmpty is ExtractObject with "{}" substituted on failure.
func ObjectOrEmpty(raw string) string {
	if obj, ok := ExtractObject(raw); ok {
		return obj
	}
	return "{}"
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
