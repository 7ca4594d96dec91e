// Package policy masks caller PII in conversation text before it is written to
// logs.
package policy

import "regexp"

type rule struct {
	pattern *regexp.Regexp
	mask    string
}

// Card numbers run before phone numbers so a card is never masked as a phone.
var rules = []rule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[email]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[card]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[phone]"},
}

// RedactPII masks email addresses, card numbers and phone numbers. Callers
// read digits aloud, so transcripts hit these more often than typed text.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// Redact is RedactPII without the change report.
func Redact(input string) string {
	out, _ := RedactPII(input)
	return out
}
