package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// Header is a single HTTP header field. Messages keep headers as an ordered
// list so that duplicates and wire order survive reconstruction.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is a fully reconstructed HTTP message. A Message is produced by a
// [Reconstructor] once the complete body has been received and is treated as
// immutable afterwards; use [Message.WithBody] to derive a modified copy.
//
// Request messages populate Method, RequestURI, Path and Query. Response
// messages populate StatusCode and Reason.
type Message struct {
	// Method is the HTTP method. Empty for responses.
	Method string

	// RequestURI is the raw request target as it appeared on the wire.
	RequestURI string

	// Path is the decoded URL path, without the query string.
	Path string

	// Query holds the decoded query parameters. Repeated parameters are
	// preserved in order under their key.
	Query url.Values

	// StatusCode is the response status code. Zero for requests.
	StatusCode int

	// Reason is the response reason phrase.
	Reason string

	// Proto is the HTTP version from the start line, e.g. "HTTP/1.1".
	Proto string

	// Headers is the ordered header list, duplicates preserved.
	Headers []Header

	// Body is the message body. May be truncated when the reconstructor
	// was built with a size cap; Truncated reports that.
	Body []byte

	// Truncated is true when Body was cut short at the configured cap and
	// ends with the truncation marker.
	Truncated bool
}

// IsRequest reports whether the message is an HTTP request.
func (m *Message) IsRequest() bool { return m.Method != "" }

// HeaderValue returns the first value of the named header, matched
// case-insensitively, or "" when absent.
func (m *Message) HeaderValue(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HeaderValues returns all values of the named header in wire order.
func (m *Message) HeaderValues(name string) []string {
	var vals []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			vals = append(vals, h.Value)
		}
	}
	return vals
}

// WithBody returns a copy of the message carrying the given body. The
// Content-Length header on the copy is corrected to match; a chunked
// Transfer-Encoding header is dropped since the copy is re-serialized with
// an explicit length.
func (m *Message) WithBody(body []byte) *Message {
	out := *m
	out.Body = body

	headers := make([]Header, 0, len(m.Headers))
	replaced := false
	for _, h := range m.Headers {
		switch {
		case strings.EqualFold(h.Name, "Content-Length"):
			if !replaced {
				headers = append(headers, Header{h.Name, strconv.Itoa(len(body))})
				replaced = true
			}
		case strings.EqualFold(h.Name, "Transfer-Encoding"):
			// dropped: the copy carries an explicit Content-Length
		default:
			headers = append(headers, h)
		}
	}
	if !replaced {
		headers = append(headers, Header{"Content-Length", strconv.Itoa(len(body))})
	}
	out.Headers = headers
	return &out
}

// Bytes serializes the message to HTTP/1.x wire format.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = m.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo serializes the message back to HTTP/1.x wire format.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	proto := m.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if m.IsRequest() {
		fmt.Fprintf(&b, "%s %s %s\r\n", m.Method, m.RequestURI, proto)
	} else {
		fmt.Fprintf(&b, "%s %d %s\r\n", proto, m.StatusCode, m.Reason)
	}
	for _, h := range m.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")

	n, err := io.WriteString(w, b.String())
	total := int64(n)
	if err != nil {
		return total, err
	}
	n, err = w.Write(m.Body)
	total += int64(n)
	return total, err
}
