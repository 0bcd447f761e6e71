package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope is one outbound email handed to a Provider. MessageID,
// InReplyTo, and References are canonical ids (no angle brackets); the
// provider adds brackets on the wire.
type Envelope struct {
	From       string
	FromName   string
	To         []string
	Cc         []string
	Bcc        []string
	ReplyTo    string
	Subject    string
	BodyText   string
	BodyHTML   string
	MessageID  string
	InReplyTo  string
	References []string
}

// Provider delivers outbound email. Implementations retry nothing
// themselves; the dispatcher owns the retry schedule and uses IsTransient
// to decide.
type Provider interface {
	Name() string
	Send(ctx context.Context, env *Envelope) (providerMessageID string, err error)
	TestConnection(ctx context.Context) error
}

// transientError marks a failure worth retrying (network, 5xx, SMTP 4xx).
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf formats a retryable error.
func Transientf(format string, args ...interface{}) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// BuildRaw serializes an envelope into RFC 5322 wire format with a
// multipart/alternative body. Used by the SMTP provider and the SES raw
// path, which both need full control of the threading headers.
func BuildRaw(env *Envelope, now time.Time) []byte {
	var b bytes.Buffer

	from := env.From
	if env.FromName != "" {
		from = fmt.Sprintf("%s <%s>", env.FromName, env.From)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(env.To, ", "))
	if len(env.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(env.Cc, ", "))
	}
	if env.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", env.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", env.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s>\r\n", env.MessageID)
	if env.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: <%s>\r\n", env.InReplyTo)
	}
	if len(env.References) > 0 {
		refs := make([]string, len(env.References))
		for i, r := range env.References {
			refs[i] = "<" + r + ">"
		}
		fmt.Fprintf(&b, "References: %s\r\n", strings.Join(refs, " "))
	}
	b.WriteString("MIME-Version: 1.0\r\n")

	boundary := "=_" + uuid.New().String()[:16]
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	if env.BodyText != "" {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(env.BodyText)
		b.WriteString("\r\n")
	}
	if env.BodyHTML != "" {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(env.BodyHTML)
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return b.Bytes()
}
