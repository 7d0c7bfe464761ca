// Package loosejson parses loosely-formed JSON fragments embedded in
// enrichment payloads. Upstream tool services hand back profile data that is
// frequently almost-JSON: single quotes, unquoted keys, trailing commas,
// stray control characters. Decode repairs what it can and gives up quietly.
package loosejson

import (
	"encoding/json"
	"regexp"
	"strings"
)

var unquotedKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// Decode parses s as JSON, applying a deterministic repair chain on failure.
// It returns the first variant that parses strictly, or nil if none do.
// Decode never returns an error and never panics.
func Decode(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	// Breadth-first worklist over repair variants. Each transform is applied
	// to every not-yet-seen variant, so combinations of defects (for example
	// single quotes AND a trailing comma) are repaired in two generations.
	seen := map[string]bool{s: true}
	queue := []string{s}

	for len(queue) > 0 {
		variant := queue[0]
		queue = queue[1:]

		var v any
		if err := json.Unmarshal([]byte(variant), &v); err == nil {
			return v
		}

		for _, repair := range repairs {
			next := repair(variant)
			if next == variant || seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}

	return nil
}

// repairs is the fixed, order-independent set of textual transforms. Each is
// idempotent: applying it twice yields the same string as applying it once.
var repairs = []func(string) string{
	swapSingleQuotes,
	quoteBareKeys,
	stripTrailingCommas,
	stripControlChars,
}

func swapSingleQuotes(s string) string {
	if !strings.Contains(s, "'") {
		return s
	}
	return strings.ReplaceAll(s, "'", `"`)
}

func quoteBareKeys(s string) string {
	return unquotedKeyRe.ReplaceAllString(s, `$1"$2":`)
}

func stripTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
}
