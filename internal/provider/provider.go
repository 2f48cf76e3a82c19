package provider

import "context"

// EmailMessage is one rendered notification ready for delivery.
type EmailMessage struct {
	To       []string
	Cc       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// Provider is the outbound notification delivery port.
type Provider interface {
	Send(ctx context.Context, msg EmailMessage) (*SendResult, error)
}

// SendResult stores delivery metadata for audit and persistence.
type SendResult struct {
	MessageID string
	Response  string
}

// Recipients returns the union of To and Cc with duplicates and blanks
// removed, preserving order. The SMTP envelope gets one RCPT per entry.
func (m EmailMessage) Recipients() []string {
	seen := make(map[string]struct{}, len(m.To)+len(m.Cc))
	out := make([]string, 0, len(m.To)+len(m.Cc))
	for _, addr := range append(append([]string{}, m.To...), m.Cc...) {
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
