package ai

import (
	"regexp"
	"strings"
)

// Sanitization is mandatory on every generated reply: the model sees
// conversation history that may quote addresses, phone numbers, or card
// numbers, and none of those may flow back out.

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{1,3}[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3}[\s.\-]?\d{3,4}`)
	cardPattern  = regexp.MustCompile(`(?:\d[ \-]?){13,19}`)
)

// Kept lowercase; matching is case-insensitive whole-word.
var profanity = []string{
	"damn", "hell", "crap", "bastard", "bitch", "shit", "fuck", "asshole",
}

var profanityPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(profanity, "|") + `)\b`)

// Sanitize redacts emails, phone numbers, Luhn-valid card digit runs, and
// profanity from generated text.
func Sanitize(text string) string {
	out := emailPattern.ReplaceAllString(text, "[redacted email]")

	out = cardPattern.ReplaceAllStringFunc(out, func(m string) string {
		if luhnValid(m) {
			return "[redacted card number]"
		}
		return m
	})

	out = phonePattern.ReplaceAllString(out, "[redacted phone]")
	out = profanityPattern.ReplaceAllString(out, "****")
	return out
}

// luhnValid checks the Luhn checksum over the digits of m (separators
// ignored). Runs of 13-19 digits that pass are treated as card numbers.
func luhnValid(m string) bool {
	var digits []int
	for _, r := range m {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
