package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

// Inbound is one parsed email as the poller and webhook ingress hand it to
// the classification/threading pipeline.
type Inbound struct {
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string
	From       string
	To         []string
	Cc         []string
	BodyText   string
	BodyHTML   string
	Date       time.Time

	Attachments []InboundAttachment

	// ListUnsubscribe feeds the promotion signal of the spam classifier.
	ListUnsubscribe bool

	// AutoSubmitted marks responder-generated mail (Auto-Submitted,
	// X-Auto-Response-Suppress, bulk Precedence). Such mail never
	// triggers an AI reply.
	AutoSubmitted bool
}

// InboundAttachment is one decoded attachment part.
type InboundAttachment struct {
	FileName string
	MimeType string
	Data     []byte
}

// ParseInbound decodes a raw RFC 5322 message into an Inbound. A part that
// fails to decode is skipped; the message as a whole only fails when the
// envelope headers are unreadable.
// ParseInboundBytes parses a raw message already held in memory.
func ParseInboundBytes(raw []byte) (*Inbound, error) {
	return ParseInbound(bytes.NewReader(raw))
}

func ParseInbound(r io.Reader) (*Inbound, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	h := mr.Header
	in := &Inbound{}

	in.Subject, _ = h.Subject()
	in.Date, _ = h.Date()
	if id, err := h.MessageID(); err == nil {
		in.MessageID = CanonicalMessageID(id)
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		in.InReplyTo = CanonicalMessageID(ids[0])
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		for _, ref := range refs {
			in.References = append(in.References, CanonicalMessageID(ref))
		}
	}

	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		in.From = strings.ToLower(addrs[0].Address)
	}
	if addrs, err := h.AddressList("To"); err == nil {
		for _, a := range addrs {
			in.To = append(in.To, strings.ToLower(a.Address))
		}
	}
	if addrs, err := h.AddressList("Cc"); err == nil {
		for _, a := range addrs {
			in.Cc = append(in.Cc, strings.ToLower(a.Address))
		}
	}

	in.ListUnsubscribe = h.Get("List-Unsubscribe") != ""
	in.AutoSubmitted = isAutoSubmitted(
		h.Get("Auto-Submitted"),
		h.Get("X-Auto-Response-Suppress"),
		h.Get("Precedence"),
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Undecodable part; keep what we have.
			break
		}

		switch ph := part.Header.(type) {
		case *gomail.InlineHeader:
			ct, _, _ := ph.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch ct {
			case "text/plain":
				if in.BodyText == "" {
					in.BodyText = string(body)
				}
			case "text/html":
				if in.BodyHTML == "" {
					in.BodyHTML = string(body)
				}
			}
		case *gomail.AttachmentHeader:
			name, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if ct == "" {
				ct = "application/octet-stream"
			}
			in.Attachments = append(in.Attachments, InboundAttachment{
				FileName: name,
				MimeType: ct,
				Data:     data,
			})
		}
	}

	return in, nil
}

func isAutoSubmitted(autoSubmitted, suppress, precedence string) bool {
	as := strings.ToLower(strings.TrimSpace(autoSubmitted))
	if as != "" && as != "no" {
		return true
	}
	if suppress != "" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(precedence)) {
	case "bulk", "junk", "list", "auto_reply":
		return true
	}
	return false
}
