package mail

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewMessageID generates an RFC 2822 message identifier for outbound mail,
// using the sender address's domain as the right-hand side.
func NewMessageID(fromAddress string) string {
	domain := "localhost"
	if at := strings.LastIndex(fromAddress, "@"); at >= 0 && at < len(fromAddress)-1 {
		domain = fromAddress[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}

// CanonicalMessageID strips the angle brackets some clients include and
// some omit, so stored ids compare equal regardless of source formatting.
func CanonicalMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
