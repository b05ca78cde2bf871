package llmjson

import (
	"regexp"
	"strings"
)

// maxCleanPasses bounds the fixpoint loop in Clean. Every pass that changes
// the text removes characters, single quotes or control characters, so the
// loop settles after two or three passes on real model output.
const maxCleanPasses = 8

var (
	// `: "..."` value spans, including escaped inner quotes.
	stringValueRe = regexp.MustCompile(`(?s):\s*"[^"\\]*(?:\\.[^"\\]*)*"`)
	singleKeyRe   = regexp.MustCompile(`(\s*)'([^']+)'(\s*:)`)
	singleValueRe = regexp.MustCompile(`:\s*'([^']*)'`)
	// Commas (and stray repeats) directly before a closer.
	trailingCommaRe = regexp.MustCompile(`,[\s,]*([}\]])`)
	// `//` not preceded by ':' so URL schemes survive.
	lineCommentRe  = regexp.MustCompile(`(^|[^:])//[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	controlRe      = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)

	controlEscaper = strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`)
)

// Clean applies the syntax repairs in a fixed order and repeats the sequence
// until the text stops changing, which makes Clean idempotent.
func Clean(s string) string {
	for i := 0; i < maxCleanPasses; i++ {
		next := cleanOnce(s)
		if next == s {
			return next
		}
		s = next
	}
	return s
}

func cleanOnce(s string) string {
	// 1. escape raw control characters inside string values
	s = stringValueRe.ReplaceAllStringFunc(s, controlEscaper.Replace)
	// 2. 'key': -> "key":
	s = singleKeyRe.ReplaceAllString(s, `${1}"${2}"${3}`)
	// 3. : 'value' -> : "value"
	s = singleValueRe.ReplaceAllString(s, `: "${1}"`)
	// 4. trailing commas
	s = trailingCommaRe.ReplaceAllString(s, "${1}")
	// 5. comments
	s = lineCommentRe.ReplaceAllString(s, "${1}")
	s = blockCommentRe.ReplaceAllString(s, "")
	// 6. leftover control characters outside \t \n \r
	s = controlRe.ReplaceAllString(s, "")
	return s
}
