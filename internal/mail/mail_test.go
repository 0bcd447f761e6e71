package mail

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeSubject(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Password reset", "password reset"},
		{"Re: Password reset", "password reset"},
		{"RE: re: FWD: Password reset", "password reset"},
		{"Fw: billing question", "billing question"},
		{"  Re:   spaced  ", "spaced"},
		{"", ""},
		{"Re:", ""},
	}
	for _, c := range cases {
		if got := NormalizeSubject(c.in); got != c.want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalMessageID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"<abc@example.com>", "abc@example.com"},
		{"abc@example.com", "abc@example.com"},
		{"  <abc@example.com>  ", "abc@example.com"},
		{"", ""},
	}
	for _, c := range cases {
		if got := CanonicalMessageID(c.in); got != c.want {
			t.Errorf("CanonicalMessageID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNewMessageID(t *testing.T) {
	id := NewMessageID("support@acme.io")
	if !strings.HasPrefix(id, "<") || !strings.HasSuffix(id, "@acme.io>") {
		t.Errorf("NewMessageID = %q, want <uuid@acme.io>", id)
	}
	if NewMessageID("support@acme.io") == id {
		t.Error("expected unique ids per call")
	}
	if !strings.HasSuffix(NewMessageID("not-an-address"), "@localhost>") {
		t.Error("expected localhost fallback for malformed sender")
	}
}

func TestTemplateRenderLaxMode(t *testing.T) {
	e := NewTemplateEngine()

	out, err := e.Render("", "Hello {{customer_name}}, re {{subject}}", TemplateVars{
		CustomerName: "Dana",
		Subject:      "refund",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hello Dana, re refund" {
		t.Errorf("Render = %q", out)
	}

	// Unknown variables render empty instead of failing.
	out, err = e.Render("", "x{{never_set}}y", TemplateVars{})
	if err != nil {
		t.Fatalf("Render unknown var: %v", err)
	}
	if out != "xy" {
		t.Errorf("Render unknown var = %q, want %q", out, "xy")
	}
}

func TestTemplateRenderCache(t *testing.T) {
	e := NewTemplateEngine()
	for i := 0; i < 2; i++ {
		out, err := e.Render("tpl-1:subject", "Re: {{subject}}", TemplateVars{Subject: "hi"})
		if err != nil {
			t.Fatalf("Render pass %d: %v", i, err)
		}
		if out != "Re: hi" {
			t.Errorf("Render pass %d = %q", i, out)
		}
	}
}

func TestBuildRawThreadingHeaders(t *testing.T) {
	env := &Envelope{
		From:       "support@acme.io",
		FromName:   "Acme Support",
		To:         []string{"user@example.com"},
		Subject:    "Re: broken widget",
		BodyText:   "On it.",
		BodyHTML:   "<p>On it.</p>",
		MessageID:  "new-id@acme.io",
		InReplyTo:  "orig@example.com",
		References: []string{"root@example.com", "orig@example.com"},
	}
	raw := string(BuildRaw(env, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	for _, want := range []string{
		"From: Acme Support <support@acme.io>\r\n",
		"To: user@example.com\r\n",
		"Message-ID: <new-id@acme.io>\r\n",
		"In-Reply-To: <orig@example.com>\r\n",
		"References: <root@example.com> <orig@example.com>\r\n",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Type: text/html; charset=UTF-8",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("BuildRaw missing %q", want)
		}
	}
}

func TestParseInbound(t *testing.T) {
	raw := "From: Dana Customer <Dana@Example.com>\r\n" +
		"To: support@acme.io\r\n" +
		"Subject: Re: broken widget\r\n" +
		"Date: Mon, 02 Mar 2026 10:00:00 +0000\r\n" +
		"Message-ID: <msg-2@example.com>\r\n" +
		"In-Reply-To: <msg-1@acme.io>\r\n" +
		"References: <msg-0@acme.io> <msg-1@acme.io>\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"Still broken.\r\n"

	in, err := ParseInboundBytes([]byte(raw))
	if err != nil {
		t.Fatalf("ParseInboundBytes: %v", err)
	}
	if in.MessageID != "msg-2@example.com" {
		t.Errorf("MessageID = %q", in.MessageID)
	}
	if in.InReplyTo != "msg-1@acme.io" {
		t.Errorf("InReplyTo = %q", in.InReplyTo)
	}
	if len(in.References) != 2 || in.References[1] != "msg-1@acme.io" {
		t.Errorf("References = %v", in.References)
	}
	if in.From != "dana@example.com" {
		t.Errorf("From = %q, want lowercased address", in.From)
	}
	if !strings.Contains(in.BodyText, "Still broken.") {
		t.Errorf("BodyText = %q", in.BodyText)
	}
	if in.AutoSubmitted {
		t.Error("AutoSubmitted = true for normal mail")
	}
}

func TestParseInboundAutoSubmitted(t *testing.T) {
	raw := "From: noreply@example.com\r\n" +
		"To: support@acme.io\r\n" +
		"Subject: Out of office\r\n" +
		"Auto-Submitted: auto-replied\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"I am away.\r\n"

	in, err := ParseInboundBytes([]byte(raw))
	if err != nil {
		t.Fatalf("ParseInboundBytes: %v", err)
	}
	if !in.AutoSubmitted {
		t.Error("AutoSubmitted = false, want true for Auto-Submitted: auto-replied")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(Transientf("smtp 421")) {
		t.Error("Transientf not detected")
	}
	if IsTransient(nil) {
		t.Error("nil classified transient")
	}
	if IsTransient(errPermanent) {
		t.Error("plain error classified transient")
	}
}

var errPermanent = &permErr{}

type permErr struct{}

func (*permErr) Error() string { return "smtp 550 no such user" }
