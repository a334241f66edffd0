package gateway

import (
	"strings"
	"testing"
)

func TestMessage_WithBody(t *testing.T) {
	msg := &Message{
		Method:     "POST",
		RequestURI: "/idx/_search",
		Path:       "/idx/_search",
		Proto:      "HTTP/1.1",
		Headers: []Header{
			{"Host", "example.com"},
			{"Content-Length", "10"},
		},
		Body: []byte("0123456789"),
	}

	out := msg.WithBody([]byte("abc"))
	if string(out.Body) != "abc" {
		t.Errorf("unexpected body: %q", out.Body)
	}
	if out.HeaderValue("Content-Length") != "3" {
		t.Errorf("content length not corrected: %s", out.HeaderValue("Content-Length"))
	}
	// Original untouched.
	if string(msg.Body) != "0123456789" || msg.HeaderValue("Content-Length") != "10" {
		t.Error("WithBody mutated the original message")
	}
}

func TestMessage_WithBody_DropsChunked(t *testing.T) {
	msg := &Message{
		Method:     "POST",
		RequestURI: "/x",
		Proto:      "HTTP/1.1",
		Headers:    []Header{{"Transfer-Encoding", "chunked"}},
		Body:       []byte("body"),
	}
	out := msg.WithBody([]byte("body"))
	if out.HeaderValue("Transfer-Encoding") != "" {
		t.Error("chunked transfer encoding should be dropped")
	}
	if out.HeaderValue("Content-Length") != "4" {
		t.Errorf("expected explicit content length, got %q", out.HeaderValue("Content-Length"))
	}
}

func TestMessage_Bytes_RoundTrip(t *testing.T) {
	r := NewRequestReconstructor(0)
	wire := "POST /idx/_search HTTP/1.1\r\nHost: h\r\nContent-Length: 2\r\n\r\n{}"
	msgs := r.Feed([]byte(wire))
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if got := string(msgs[0].Bytes()); got != wire {
		t.Errorf("round trip mismatch:\n got %q\nwant %q", got, wire)
	}
}

func TestMessage_Bytes_Response(t *testing.T) {
	msg := &Message{
		Proto:      "HTTP/1.1",
		StatusCode: 200,
		Reason:     "OK",
		Headers:    []Header{{"Content-Length", "2"}},
		Body:       []byte("ok"),
	}
	got := string(msg.Bytes())
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("unexpected status line: %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\nok") {
		t.Errorf("unexpected serialization: %q", got)
	}
}
