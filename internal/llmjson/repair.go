package llmjson

import (
	"regexp"
	"strings"
)

// closeArraysFirst decides the order of appended closers when both arrays
// and objects are unbalanced. Truncation usually happens inside the trailing
// list of picks, so arrays go first.
const closeArraysFirst = true

var (
	danglingCommaRe  = regexp.MustCompile(`,\s*$`)
	repeatedCommaRe  = regexp.MustCompile(`,(\s*,)+`)
	emptyBeforeComma = regexp.MustCompile(`:\s*,`)
	emptyBeforeBrace = regexp.MustCompile(`:\s*}`)
	emptyBeforeBrack = regexp.MustCompile(`:\s*]`)
)

// Repair is the single salvage pass run after Clean's output failed to parse.
// It closes an unterminated string, appends missing closers, collapses
// repeated commas and fills empty values with null. It is not applied
// recursively.
func Repair(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	scan := scanStructure(s)

	// Close the string first so the appended closers land outside it.
	if scan.inString {
		if scan.danglingEscape {
			s = s[:len(s)-1]
		}
		s += `"`
	}

	arrays := scan.openBrackets - scan.closeBrackets
	objects := scan.openBraces - scan.closeBraces
	if arrays > 0 || objects > 0 {
		s = danglingCommaRe.ReplaceAllString(s, "")
		if closeArraysFirst {
			s += strings.Repeat("]", max(arrays, 0)) + strings.Repeat("}", max(objects, 0))
		} else {
			s += strings.Repeat("}", max(objects, 0)) + strings.Repeat("]", max(arrays, 0))
		}
	}

	s = repeatedCommaRe.ReplaceAllString(s, ",")

	s = emptyBeforeComma.ReplaceAllString(s, ": null,")
	s = emptyBeforeBrace.ReplaceAllString(s, ": null}")
	s = emptyBeforeBrack.ReplaceAllString(s, ": null]")
	return s
}

type structure struct {
	openBraces, closeBraces     int
	openBrackets, closeBrackets int
	inString                    bool
	// danglingEscape is set when the text ends on an unpaired backslash
	// inside a string.
	danglingEscape bool
}

// scanStructure counts brackets outside string literals and reports whether
// the text ends inside an unterminated string.
func scanStructure(s string) structure {
	var st structure
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if st.inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				st.inString = false
			}
			continue
		}
		switch c {
		case '"':
			st.inString = true
		case '{':
			st.openBraces++
		case '}':
			st.closeBraces++
		case '[':
			st.openBrackets++
		case ']':
			st.closeBrackets++
		}
	}
	st.danglingEscape = st.inString && escaped
	return st
}
