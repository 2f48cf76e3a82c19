package provider

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// scriptFunc drives the server side of one SMTP conversation.
type scriptFunc func(s *serverScript)

// serverScript is a line-oriented harness around the server end of the
// socket. Failures are reported through t.Errorf because the script runs
// in the accept goroutine.
type serverScript struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func (s *serverScript) send(lines ...string) {
	for _, line := range lines {
		if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
			s.t.Errorf("server write failed: %v", err)
			return
		}
	}
}

func (s *serverScript) expect(prefix string) {
	line, err := s.br.ReadString('\n')
	if err != nil {
		s.t.Errorf("server read failed while waiting for %q: %v", prefix, err)
		return
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, prefix) {
		s.t.Errorf("expected client command with prefix %q, got %q", prefix, line)
	}
}

// drainData consumes the message body up to and including the lone-dot
// terminator.
func (s *serverScript) drainData() {
	for {
		line, err := s.br.ReadString('\n')
		if err != nil {
			s.t.Errorf("server read failed while draining body: %v", err)
			return
		}
		if strings.TrimRight(line, "\r\n") == "." {
			return
		}
	}
}

func startScriptedServer(t *testing.T, script scriptFunc) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		script(&serverScript{t: t, conn: conn, br: bufio.NewReader(conn)})
	}()

	return ln.Addr().String()
}

func newTestProvider(t *testing.T, cfg SMTPConfig, serverAddr string) *SMTPProvider {
	t.Helper()

	if cfg.Host == "" {
		cfg.Host = "mail.example.com"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = "noreply@claimdesk.io"
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 2 * time.Second
	}

	p, err := NewSMTPProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	p.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		if want := net.JoinHostPort(cfg.Host, "587"); cfg.Port == 587 && addr != want {
			t.Errorf("expected dial address %q, got %q", want, addr)
		}
		var d net.Dialer
		return d.DialContext(ctx, "tcp", serverAddr)
	}
	p.linger = func(time.Duration) {}

	return p
}

func TestNewSMTPProviderValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  SMTPConfig
	}{
		{name: "missing host", cfg: SMTPConfig{Port: 587, From: "a@b.c"}},
		{name: "missing from", cfg: SMTPConfig{Host: "mail.example.com", Port: 587}},
		{name: "missing port", cfg: SMTPConfig{Host: "mail.example.com", From: "a@b.c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := NewSMTPProvider(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSMTPProviderSend(t *testing.T) {
	t.Parallel()

	addr := startScriptedServer(t, func(s *serverScript) {
		s.send("220 mail.example.com ESMTP ready")
		s.expect("EHLO claimdesk.io")
		s.send("250-mail.example.com", "250-SIZE 35882577", "250 8BITMIME")
		s.expect("MAIL FROM:<noreply@claimdesk.io>")
		s.send("250 sender ok")
		s.expect("RCPT TO:<payee@example.com>")
		s.send("250 recipient ok")
		s.expect("RCPT TO:<auditor@example.com>")
		s.send("251 user not local; will forward")
		s.expect("DATA")
		s.send("354 end data with <CR><LF>.<CR><LF>")
		s.drainData()
		s.send("250 2.0.0 queued as F00")
		s.expect("QUIT")
		s.send("221 bye")
	})

	p := newTestProvider(t, SMTPConfig{}, addr)

	res, err := p.Send(context.Background(), EmailMessage{
		To:       []string{"payee@example.com"},
		Cc:       []string{"auditor@example.com"},
		Subject:  "Claim approved",
		TextBody: "Your claim was approved.",
		HTMLBody: "<p>Your claim was approved.</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(res.MessageID, "@mail.example.com") {
		t.Errorf("unexpected message id %q", res.MessageID)
	}
	if res.Response != "2.0.0 queued as F00" {
		t.Errorf("unexpected response %q", res.Response)
	}
}

func TestSMTPProviderSendWithAuth(t *testing.T) {
	t.Parallel()

	user := base64.StdEncoding.EncodeToString([]byte("worker"))
	pass := base64.StdEncoding.EncodeToString([]byte("s3cret"))

	addr := startScriptedServer(t, func(s *serverScript) {
		s.send("220 mail.example.com ESMTP ready")
		s.expect("EHLO")
		s.send("250-mail.example.com", "250 AUTH LOGIN PLAIN")
		s.expect("AUTH LOGIN")
		s.send("334 VXNlcm5hbWU6")
		s.expect(user)
		s.send("334 UGFzc3dvcmQ6")
		s.expect(pass)
		s.send("235 authenticated")
		s.expect("MAIL FROM:")
		s.send("250 ok")
		s.expect("RCPT TO:")
		s.send("250 ok")
		s.expect("DATA")
		s.send("354 go ahead")
		s.drainData()
		s.send("250 accepted")
		s.expect("QUIT")
		s.send("221 bye")
	})

	p := newTestProvider(t, SMTPConfig{Username: "worker", Password: "s3cret"}, addr)

	if _, err := p.Send(context.Background(), EmailMessage{
		To:       []string{"payee@example.com"},
		Subject:  "hi",
		TextBody: "hi",
		HTMLBody: "<p>hi</p>",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSMTPProviderSendRejectedSender(t *testing.T) {
	t.Parallel()

	addr := startScriptedServer(t, func(s *serverScript) {
		s.send("220 mail.example.com ESMTP ready")
		s.expect("EHLO")
		s.send("250 mail.example.com")
		s.expect("MAIL FROM:")
		s.send("550 sender rejected")
	})

	p := newTestProvider(t, SMTPConfig{}, addr)

	_, err := p.Send(context.Background(), EmailMessage{
		To:       []string{"payee@example.com"},
		Subject:  "hi",
		TextBody: "hi",
		HTMLBody: "<p>hi</p>",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected a ProtocolError, got %T", err)
	}
	if protoErr.Command != "MAIL FROM" {
		t.Errorf("expected failure on MAIL FROM, got %q", protoErr.Command)
	}
	if protoErr.Code != 550 {
		t.Errorf("expected code 550, got %d", protoErr.Code)
	}
}

func TestSMTPProviderSendStalledServer(t *testing.T) {
	t.Parallel()

	addr := startScriptedServer(t, func(s *serverScript) {
		s.send("220 mail.example.com ESMTP ready")
		s.expect("EHLO")
		// Never reply: the client's read deadline must fire.
		time.Sleep(500 * time.Millisecond)
	})

	p := newTestProvider(t, SMTPConfig{CommandTimeout: 100 * time.Millisecond}, addr)

	_, err := p.Send(context.Background(), EmailMessage{
		To:       []string{"payee@example.com"},
		Subject:  "hi",
		TextBody: "hi",
		HTMLBody: "<p>hi</p>",
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected a ProtocolError, got %T", err)
	}
	if protoErr.Command != "EHLO" {
		t.Errorf("expected failure on EHLO, got %q", protoErr.Command)
	}
}

func TestSMTPProviderSendNoRecipients(t *testing.T) {
	t.Parallel()

	p, err := NewSMTPProvider(SMTPConfig{
		Host: "mail.example.com",
		Port: 587,
		From: "noreply@claimdesk.io",
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	p.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		t.Error("dial must not be reached without recipients")
		return nil, errors.New("unreachable")
	}

	if _, err := p.Send(context.Background(), EmailMessage{Subject: "hi"}); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("expected ErrNoRecipients, got %v", err)
	}
}
