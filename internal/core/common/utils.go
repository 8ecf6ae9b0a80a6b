package common

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// ParseJSON cleans and unmarshals a JSON object embedded in an LLM reply into T.
// Surrounding prose and markdown fences are ignored.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	start := strings.IndexByte(response, '{')
	end := strings.LastIndexByte(response, '}')
	if start == -1 {
		return zero, fmt.Errorf("no JSON object found in response (missing '{')")
	}
	if end < start {
		return zero, fmt.Errorf("no JSON object found in response (missing '}')")
	}

	jsonStr := response[start : end+1]
	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, jsonStr)
	}
	return result, nil
}

var ErrNoVerdict = errors.New("reply is not a YES/NO verdict")

// ParseVerdict accepts a reply that reduces to exactly YES or NO.
// Case, surrounding whitespace, quotes, markdown emphasis and one trailing
// period are tolerated; anything else ("Yes, because...", "maybe") is an error.
func ParseVerdict(reply string) (bool, error) {
	s := strings.TrimSpace(reply)
	s = strings.Trim(s, "`*\"' \t\r\n")
	s = strings.TrimSuffix(s, ".")
	switch strings.ToUpper(s) {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrNoVerdict, Truncate(reply, 80))
}

// Truncate shortens s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
