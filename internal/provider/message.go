package provider

import (
	"encoding/base64"
	"strings"
	"time"
)

// mimeLineLength is the conventional maximum length of an encoded body
// line.
const mimeLineLength = 76

type mimeParams struct {
	From      string
	To        []string
	Cc        []string
	Subject   string
	TextBody  string
	HTMLBody  string
	Boundary  string
	MessageID string
	Date      time.Time
}

// buildMIMEMessage assembles a multipart/alternative message with a
// text/plain and a text/html part, both base64-encoded and hard-wrapped.
// The result already uses CRLF line endings and ends with a final CRLF, so
// the caller only appends the DATA terminator.
func buildMIMEMessage(p mimeParams) []byte {
	var b strings.Builder

	writeHeader(&b, "From", p.From)
	writeHeader(&b, "To", strings.Join(p.To, ", "))
	if len(p.Cc) > 0 {
		writeHeader(&b, "Cc", strings.Join(p.Cc, ", "))
	}
	writeHeader(&b, "Subject", encodeSubject(p.Subject))
	writeHeader(&b, "Date", p.Date.Format(time.RFC1123Z))
	writeHeader(&b, "Message-ID", "<"+p.MessageID+">")
	writeHeader(&b, "MIME-Version", "1.0")
	writeHeader(&b, "Content-Type", `multipart/alternative; boundary="`+p.Boundary+`"`)
	b.WriteString("\r\n")

	writeBodyPart(&b, p.Boundary, "text/plain", p.TextBody)
	writeBodyPart(&b, p.Boundary, "text/html", p.HTMLBody)
	b.WriteString("--" + p.Boundary + "--\r\n")

	return []byte(b.String())
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func writeBodyPart(b *strings.Builder, boundary, contentType, body string) {
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: " + contentType + "; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")
	b.WriteString(wrapBase64(body))
	b.WriteString("\r\n")
}

// encodeSubject renders the subject as an RFC 2047 encoded-word so
// non-ASCII text survives the 7-bit header path.
func encodeSubject(subject string) string {
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(subject)) + "?="
}

// wrapBase64 encodes the body and re-flows it into CRLF-separated lines of
// at most 76 characters.
func wrapBase64(body string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(body))

	var b strings.Builder
	for len(encoded) > mimeLineLength {
		b.WriteString(encoded[:mimeLineLength])
		b.WriteString("\r\n")
		encoded = encoded[mimeLineLength:]
	}
	b.WriteString(encoded)

	return b.String()
}
