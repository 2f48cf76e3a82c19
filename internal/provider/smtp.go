package provider

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultCommandTimeout = 10 * time.Second
	// quitLinger keeps the socket open briefly after QUIT so slow servers
	// can flush their final reply before the FIN.
	quitLinger = 50 * time.Millisecond
)

// SMTPConfig carries the endpoint the provider speaks to. Username and
// Password are optional; when empty the AUTH LOGIN phase is skipped.
type SMTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	From           string
	UseTLS         bool
	CommandTimeout time.Duration
}

var _ Provider = (*SMTPProvider)(nil)

// SMTPProvider speaks the SMTP exchange directly over a TCP or TLS socket.
// Every reply wait and the connect itself are deadline-bounded; a stalled
// server surfaces as an error naming the command in flight.
type SMTPProvider struct {
	cfg    SMTPConfig
	dial   func(ctx context.Context, addr string) (net.Conn, error)
	now    func() time.Time
	linger func(d time.Duration)
}

func NewSMTPProvider(cfg SMTPConfig) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port is required")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	p := &SMTPProvider{
		cfg:    cfg,
		now:    time.Now,
		linger: time.Sleep,
	}
	p.dial = p.dialConn

	return p, nil
}

func (p *SMTPProvider) Send(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	if p == nil || p.dial == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	recipients := msg.Recipients()
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	messageID := uuid.NewString() + "@" + p.cfg.Host
	payload := buildMIMEMessage(mimeParams{
		From:      p.cfg.From,
		To:        msg.To,
		Cc:        msg.Cc,
		Subject:   msg.Subject,
		TextBody:  msg.TextBody,
		HTMLBody:  msg.HTMLBody,
		Boundary:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		MessageID: messageID,
		Date:      p.now(),
	})

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, &ProtocolError{Command: "connect", Message: "dial " + addr, Cause: err}
	}
	defer conn.Close() //nolint:errcheck // best-effort socket close

	s := &session{
		conn:    conn,
		br:      bufio.NewReader(conn),
		timeout: p.cfg.CommandTimeout,
		now:     p.now,
	}

	if _, err := s.awaitReply("greeting", 220); err != nil {
		return nil, err
	}
	if _, err := s.cmd("EHLO "+p.heloName(), "EHLO", 250); err != nil {
		return nil, err
	}

	if p.cfg.Username != "" {
		if err := s.authLogin(p.cfg.Username, p.cfg.Password); err != nil {
			return nil, err
		}
	}

	if _, err := s.cmd(fmt.Sprintf("MAIL FROM:<%s>", p.cfg.From), "MAIL FROM", 250); err != nil {
		return nil, err
	}
	for _, rcpt := range recipients {
		if _, err := s.cmd(fmt.Sprintf("RCPT TO:<%s>", rcpt), "RCPT TO", 250, 251); err != nil {
			return nil, err
		}
	}
	if _, err := s.cmd("DATA", "DATA", 354); err != nil {
		return nil, err
	}

	dataReply, err := s.data(payload)
	if err != nil {
		return nil, err
	}

	// The server accepted the message at the DATA reply; a broken QUIT
	// must not turn the delivery into a retry.
	_, _ = s.cmd("QUIT", "QUIT", 221)
	p.linger(quitLinger)

	return &SendResult{
		MessageID: messageID,
		Response:  dataReply.Text(),
	}, nil
}

func (p *SMTPProvider) dialConn(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.CommandTimeout}
	if p.cfg.UseTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: p.cfg.Host},
		}
		return tlsDialer.DialContext(ctx, "tcp", addr)
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// heloName identifies this client to the server. The domain of the sender
// address is the closest thing to a stable identity the config carries.
func (p *SMTPProvider) heloName() string {
	if _, domain, ok := strings.Cut(p.cfg.From, "@"); ok && domain != "" {
		return domain
	}
	return "localhost"
}

// session is one synchronous SMTP conversation. Each command blocks on
// exactly one complete reply before the next command is written.
type session struct {
	conn    net.Conn
	br      *bufio.Reader
	timeout time.Duration
	now     func() time.Time
}

func (s *session) cmd(line, name string, expect ...int) (*Reply, error) {
	if err := s.conn.SetWriteDeadline(s.now().Add(s.timeout)); err != nil {
		return nil, &ProtocolError{Command: name, Message: "arming write deadline", Cause: err}
	}
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		return nil, &ProtocolError{Command: name, Message: "write failed", Cause: err}
	}
	return s.awaitReply(name, expect...)
}

func (s *session) awaitReply(command string, expect ...int) (*Reply, error) {
	if err := s.conn.SetReadDeadline(s.now().Add(s.timeout)); err != nil {
		return nil, &ProtocolError{Command: command, Message: "arming read deadline", Cause: err}
	}

	reply, err := readReply(s.br)
	if err != nil {
		return nil, &ProtocolError{Command: command, Message: "reading reply", Cause: err}
	}
	if !reply.HasCode(expect...) {
		return nil, &ProtocolError{
			Command: command,
			Code:    reply.Code,
			Message: fmt.Sprintf("unexpected reply %q", reply.Text()),
		}
	}

	return reply, nil
}

// authLogin runs the AUTH LOGIN challenge/response: the command expects a
// 334 challenge, the base64 username another 334, the base64 password 235.
func (s *session) authLogin(username, password string) error {
	if _, err := s.cmd("AUTH LOGIN", "AUTH LOGIN", 334); err != nil {
		return err
	}
	encodedUser := base64.StdEncoding.EncodeToString([]byte(username))
	if _, err := s.cmd(encodedUser, "AUTH LOGIN username", 334); err != nil {
		return err
	}
	encodedPass := base64.StdEncoding.EncodeToString([]byte(password))
	if _, err := s.cmd(encodedPass, "AUTH LOGIN password", 235); err != nil {
		return err
	}
	return nil
}

// data streams the message body and the lone-dot terminator, then waits
// for the acceptance reply.
func (s *session) data(payload []byte) (*Reply, error) {
	if err := s.conn.SetWriteDeadline(s.now().Add(s.timeout)); err != nil {
		return nil, &ProtocolError{Command: "DATA body", Message: "arming write deadline", Cause: err}
	}
	if _, err := s.conn.Write(payload); err != nil {
		return nil, &ProtocolError{Command: "DATA body", Message: "write failed", Cause: err}
	}
	if _, err := s.conn.Write([]byte(".\r\n")); err != nil {
		return nil, &ProtocolError{Command: "DATA body", Message: "terminator write failed", Cause: err}
	}
	return s.awaitReply("DATA body", 250)
}
