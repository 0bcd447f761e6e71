package mail

import "strings"

// NormalizeSubject strips reply/forward prefixes and folds case so that
// "RE: Re: Password reset" threads into the same conversation as
// "Password reset". Ticket rows keep the original subject; only the
// continuation-matching key is normalized.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lower := strings.ToLower(s)
		stripped := false
		for _, p := range []string{"re:", "fwd:", "fw:"} {
			if strings.HasPrefix(lower, p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return strings.ToLower(s)
}
