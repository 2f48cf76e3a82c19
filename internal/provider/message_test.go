package provider

import (
	"encoding/base64"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestEmailMessageRecipients(t *testing.T) {
	t.Parallel()

	msg := EmailMessage{
		To: []string{"a@example.com", "b@example.com", ""},
		Cc: []string{"b@example.com", "c@example.com"},
	}

	got := msg.Recipients()
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected recipients %v, got %v", want, got)
	}
}

func TestEmailMessageRecipientsEmpty(t *testing.T) {
	t.Parallel()

	msg := EmailMessage{Cc: []string{""}}
	if got := msg.Recipients(); len(got) != 0 {
		t.Errorf("expected no recipients, got %v", got)
	}
}

func TestBuildMIMEMessage(t *testing.T) {
	t.Parallel()

	date := time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)
	raw := string(buildMIMEMessage(mimeParams{
		From:      "noreply@claimdesk.io",
		To:        []string{"payee@example.com"},
		Cc:        []string{"auditor@example.com"},
		Subject:   "Claim approved ✓",
		TextBody:  "Your claim was approved.",
		HTMLBody:  "<p>Your claim was <b>approved</b>.</p>",
		Boundary:  "deadbeef",
		MessageID: "abc-123@mail.example.com",
		Date:      date,
	}))

	for _, want := range []string{
		"From: noreply@claimdesk.io\r\n",
		"To: payee@example.com\r\n",
		"Cc: auditor@example.com\r\n",
		"Message-ID: <abc-123@mail.example.com>\r\n",
		"MIME-Version: 1.0\r\n",
		"Content-Type: multipart/alternative; boundary=\"deadbeef\"\r\n",
		"--deadbeef\r\n",
		"Content-Type: text/plain; charset=UTF-8\r\n",
		"Content-Type: text/html; charset=UTF-8\r\n",
		"Content-Transfer-Encoding: base64\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q", want)
		}
	}

	if !strings.HasSuffix(raw, "--deadbeef--\r\n") {
		t.Error("message does not end with the closing boundary")
	}

	if !strings.Contains(raw, encodeSubject("Claim approved ✓")) {
		t.Error("subject is not carried as an encoded-word")
	}

	// Body parts must round-trip through their base64 encoding.
	if !strings.Contains(raw, wrapBase64("Your claim was approved.")) {
		t.Error("text part not found in message")
	}
	if !strings.Contains(raw, wrapBase64("<p>Your claim was <b>approved</b>.</p>")) {
		t.Error("html part not found in message")
	}
}

func TestBuildMIMEMessageOmitsEmptyCc(t *testing.T) {
	t.Parallel()

	raw := string(buildMIMEMessage(mimeParams{
		From:      "noreply@claimdesk.io",
		To:        []string{"payee@example.com"},
		Subject:   "hello",
		TextBody:  "hello",
		HTMLBody:  "<p>hello</p>",
		Boundary:  "deadbeef",
		MessageID: "abc@mail.example.com",
		Date:      time.Now(),
	}))

	if strings.Contains(raw, "Cc:") {
		t.Error("expected no Cc header for an empty Cc list")
	}
}

func TestEncodeSubject(t *testing.T) {
	t.Parallel()

	got := encodeSubject("Ödeme alındı")
	if !strings.HasPrefix(got, "=?UTF-8?B?") || !strings.HasSuffix(got, "?=") {
		t.Fatalf("unexpected encoded-word form %q", got)
	}

	payload := strings.TrimSuffix(strings.TrimPrefix(got, "=?UTF-8?B?"), "?=")
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if string(decoded) != "Ödeme alındı" {
		t.Errorf("subject did not round-trip, got %q", decoded)
	}
}

func TestWrapBase64LineLength(t *testing.T) {
	t.Parallel()

	wrapped := wrapBase64(strings.Repeat("claim notification body ", 40))

	for i, line := range strings.Split(wrapped, "\r\n") {
		if len(line) > mimeLineLength {
			t.Errorf("line %d exceeds %d characters: %d", i, mimeLineLength, len(line))
		}
	}

	joined := strings.ReplaceAll(wrapped, "\r\n", "")
	if _, err := base64.StdEncoding.DecodeString(joined); err != nil {
		t.Errorf("wrapped output no longer decodes: %v", err)
	}
}
