package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Plain email (case-insensitive)
var reEmail = regexp.MustCompile(`(?i)[A-Z0-9._%+\-]+@[A-Z0-9.\-]+\.[A-Z]{2,}`)

// Common phone shapes: +254 7xx..., 07xx xxx xxx, (020) 123-4567.
// Only digits, spaces, dashes, dots, parentheses and a leading plus; at least 9 digits overall.
var rePhone = regexp.MustCompile(`\+?\d[\d\s\-.()]{7,}\d`)

// RedactPII hides emails and phone numbers in free text shown to the public.
func RedactPII(s string) string {
	if s == "" {
		return s
	}
	s = reEmail.ReplaceAllString(s, "[redacted email]")
	s = rePhone.ReplaceAllString(s, "[redacted phone]")
	return s
}

// MaskPhone keeps the last three digits: "+254712345678" -> "*********678".
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	n := utf8.RuneCountInString(phone)
	if n <= 3 {
		return strings.Repeat("*", n)
	}
	r := []rune(phone)
	return strings.Repeat("*", n-3) + string(r[n-3:])
}

// Summary cuts s to at most max runes, at a word boundary when there is one.
func Summary(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	cut := max
	for cut > 0 && r[cut] != ' ' {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return strings.TrimRight(string(r[:cut]), " ") + "…"
}
