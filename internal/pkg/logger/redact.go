package logger

import (
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	digitRun   = regexp.MustCompile(`\d[\d\s-]{11,17}\d`)
)

// Address-bearing keys common in this codebase. Values under these keys are
// treated as emails even when they don't match the regex (display names etc).
var addressKeys = []string{"email", "from", "to", "cc", "bcc", "customer", "recipient", "sender"}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	for _, k := range addressKeys {
		if strings.Contains(key, k) {
			return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
		}
	}
	// Generic fields: mask embedded emails and card-length digit runs
	val = emailRegex.ReplaceAllStringFunc(val, RedactEmail)
	return digitRun.ReplaceAllString(val, "****")
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
