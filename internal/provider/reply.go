package provider

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Reply is one complete SMTP server response. Responses may span several
// lines: "250-..." continues, "250 ..." (or a bare "250") terminates.
type Reply struct {
	Code  int
	Lines []string
}

func (r *Reply) Text() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Lines, " ")
}

// HasCode reports whether the reply code is one of the expected set.
func (r *Reply) HasCode(expected ...int) bool {
	if r == nil {
		return false
	}
	for _, code := range expected {
		if r.Code == code {
			return true
		}
	}
	return false
}

// readReply consumes lines from the server until the terminating line of
// one reply is observed. The caller bounds the wait by arming a read
// deadline on the underlying connection; a deadline expiry surfaces here
// as a read error.
func readReply(br *bufio.Reader) (*Reply, error) {
	reply := &Reply{}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		code, cont, text, err := parseReplyLine(line)
		if err != nil {
			return nil, err
		}
		if reply.Code != 0 && code != reply.Code {
			return nil, fmt.Errorf("inconsistent reply codes %d and %d", reply.Code, code)
		}

		reply.Code = code
		reply.Lines = append(reply.Lines, text)

		if !cont {
			return reply, nil
		}
	}
}

// parseReplyLine splits one response line into its three-digit code, its
// continuation flag, and its text.
func parseReplyLine(line string) (code int, cont bool, text string, err error) {
	if len(line) < 3 {
		return 0, false, "", fmt.Errorf("malformed reply line %q", line)
	}

	code, convErr := strconv.Atoi(line[:3])
	if convErr != nil {
		return 0, false, "", fmt.Errorf("malformed reply code in line %q", line)
	}

	if len(line) == 3 {
		return code, false, "", nil
	}

	switch line[3] {
	case ' ':
		return code, false, line[4:], nil
	case '-':
		return code, true, line[4:], nil
	default:
		return 0, false, "", fmt.Errorf("malformed reply separator in line %q", line)
	}
}
