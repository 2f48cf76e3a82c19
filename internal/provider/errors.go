package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoRecipients is returned before any socket is opened when the
// combined To and Cc lists are empty.
var ErrNoRecipients = errors.New("no recipients")

// ProtocolError describes a failed SMTP exchange, naming the command that
// was in flight when the conversation broke down.
type ProtocolError struct {
	Command string
	Code    int
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("smtp %s", e.Command))

	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProtocolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
