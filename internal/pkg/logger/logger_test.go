package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactEmail(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, c := range cases {
		if got := RedactEmail(c.in); got != c.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLogRedactsAddressFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(INFO, &buf)

	l.Info("inbound email", "from_address", "customer@example.com", "ticket_id", "t-1")

	var entry map[string]string
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if strings.Contains(entry["from_address"], "customer@") {
		t.Errorf("from_address not redacted: %q", entry["from_address"])
	}
	if entry["ticket_id"] != "t-1" {
		t.Errorf("ticket_id mangled: %q", entry["ticket_id"])
	}
}

func TestLogRedactsDigitRuns(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(INFO, &buf)

	l.Info("sanitize check", "body", "card 4111 1111 1111 1111 on file")

	if strings.Contains(buf.String(), "4111") {
		t.Errorf("digit run not redacted: %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(WARN, &buf)

	l.Info("should not appear")
	l.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Error("INFO line emitted below level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("WARN line missing")
	}
}
