/**
 * @description
 * Best-effort recovery of JSON from model output.
 * The model is asked for bare JSON but routinely wraps it in code fences,
 * adds commentary, uses JavaScript-isms or gets truncated mid-stream.
 * Extract, Clean and Repair are syntax-level salvage steps, not a lexer:
 * their output is "more likely to parse", never "guaranteed correct".
 *
 * @dependencies
 * - standard "regexp", "strings"
 */

package llmjson

import (
	"regexp"
	"strings"
)

var (
	openFenceRe  = regexp.MustCompile("^```[A-Za-z0-9_+.-]*[ \\t]*\\r?\\n?")
	closeFenceRe = regexp.MustCompile("\\s*```\\s*$")
)

// Extract returns the substring of raw most likely to hold the JSON payload.
// It never fails; the worst case is the trimmed input.
func Extract(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = openFenceRe.ReplaceAllString(s, "")
		// A truncated response may have lost its closing fence.
		s = closeFenceRe.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		// No closer at all: keep the truncated tail for Repair.
		return strings.TrimSpace(s[start:])
	}
	return s[start : end+1]
}
