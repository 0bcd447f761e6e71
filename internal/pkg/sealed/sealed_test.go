package sealed

import (
	"strings"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New("master-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	blob, err := box.SealString("imap-password-123")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(blob) {
		t.Fatalf("blob missing prefix: %q", blob)
	}
	if strings.Contains(blob, "imap-password-123") {
		t.Fatal("plaintext leaked into blob")
	}

	got, err := box.OpenString(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "imap-password-123" {
		t.Errorf("round trip = %q", got)
	}
}

func TestSealProducesUniqueBlobs(t *testing.T) {
	box, _ := New("master-secret")

	a, _ := box.SealString("same")
	b, _ := box.SealString("same")
	if a == b {
		t.Error("two seals of the same plaintext must differ (fresh data key + nonce)")
	}
}

func TestOpenWrongMasterKey(t *testing.T) {
	box1, _ := New("master-one")
	box2, _ := New("master-two")

	blob, _ := box1.SealString("secret")
	if _, err := box2.Open(blob); err == nil {
		t.Fatal("expected failure opening with wrong master key")
	}
}

func TestOpenRejectsPlaintext(t *testing.T) {
	box, _ := New("master-secret")
	if _, err := box.Open("plain-old-password"); err != ErrNotSealed {
		t.Fatalf("err = %v, want ErrNotSealed", err)
	}
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	box, _ := New("master-secret")
	blob, _ := box.SealString("secret")

	tampered := blob[:len(blob)-2] + "xx"
	if _, err := box.Open(tampered); err == nil {
		t.Fatal("expected failure on tampered blob")
	}
}

func TestZero(t *testing.T) {
	buf := []byte{1, 2, 3}
	Zero(buf)
	for i, b := range buf {
		if b != 0 {
			t.Errorf("buf[%d] = %d after Zero", i, b)
		}
	}
}
