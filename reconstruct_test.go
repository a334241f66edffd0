package gateway

import (
	"strings"
	"testing"
)

func feedAll(t *testing.T, r *Reconstructor, wire string) []*Message {
	t.Helper()
	msgs := r.Feed([]byte(wire))
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected reconstructor error: %v", err)
	}
	return msgs
}

func TestReconstructor_SimpleRequest(t *testing.T) {
	r := NewRequestReconstructor(0)
	wire := "POST /idx1/_search?pretty=true HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Content-Length: 7\r\n" +
		"\r\n" +
		`{"a":1}`

	msgs := feedAll(t, r, wire)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.Method != "POST" {
		t.Errorf("unexpected method: %s", msg.Method)
	}
	if msg.Path != "/idx1/_search" {
		t.Errorf("unexpected path: %s", msg.Path)
	}
	if msg.Query.Get("pretty") != "true" {
		t.Errorf("unexpected query: %v", msg.Query)
	}
	if msg.HeaderValue("host") != "example.com" {
		t.Errorf("case-insensitive header lookup failed")
	}
	if string(msg.Body) != `{"a":1}` {
		t.Errorf("unexpected body: %q", msg.Body)
	}
	if !msg.IsRequest() {
		t.Error("expected a request message")
	}
}

func TestReconstructor_ByteAtATime(t *testing.T) {
	r := NewRequestReconstructor(0)
	wire := "PUT /doc/1 HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"

	var msgs []*Message
	for i := 0; i < len(wire); i++ {
		msgs = append(msgs, r.Feed([]byte{wire[i]})...)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Body) != "hello" {
		t.Errorf("unexpected body: %q", msgs[0].Body)
	}
}

func TestReconstructor_Chunked(t *testing.T) {
	r := NewRequestReconstructor(0)
	wire := "POST /_bulk HTTP/1.1\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"5;ext=1\r\nhello\r\n" +
		"6\r\n world\r\n" +
		"0\r\n" +
		"X-Trailer: done\r\n" +
		"\r\n"

	msgs := feedAll(t, r, wire)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Body) != "hello world" {
		t.Errorf("unexpected body: %q", msgs[0].Body)
	}
}

func TestReconstructor_Pipelined(t *testing.T) {
	r := NewRequestReconstructor(0)
	wire := "GET /_search HTTP/1.1\r\nContent-Length: 2\r\n\r\n{}" +
		"GET /other HTTP/1.1\r\n\r\n"

	msgs := feedAll(t, r, wire)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Path != "/_search" || msgs[1].Path != "/other" {
		t.Errorf("unexpected paths: %s, %s", msgs[0].Path, msgs[1].Path)
	}
	if len(msgs[1].Body) != 0 {
		t.Errorf("expected empty body on bodiless request, got %q", msgs[1].Body)
	}
}

func TestReconstructor_ResponseNoBodyStatuses(t *testing.T) {
	for _, status := range []string{"100 Continue", "204 No Content", "304 Not Modified"} {
		r := NewResponseReconstructor(0)
		msgs := feedAll(t, r, "HTTP/1.1 "+status+"\r\nServer: t\r\n\r\n")
		if len(msgs) != 1 {
			t.Fatalf("status %s: expected 1 message, got %d", status, len(msgs))
		}
		if len(msgs[0].Body) != 0 {
			t.Errorf("status %s: expected no body", status)
		}
	}
}

func TestReconstructor_ResponseBodyUntilClose(t *testing.T) {
	r := NewResponseReconstructor(0)
	msgs := feedAll(t, r, "HTTP/1.1 200 OK\r\nServer: t\r\n\r\npartial body")
	if len(msgs) != 0 {
		t.Fatalf("body-until-close response completed early")
	}

	msg := r.Close()
	if msg == nil {
		t.Fatal("Close returned nil for pending response")
	}
	if msg.StatusCode != 200 || msg.Reason != "OK" {
		t.Errorf("unexpected status: %d %s", msg.StatusCode, msg.Reason)
	}
	if string(msg.Body) != "partial body" {
		t.Errorf("unexpected body: %q", msg.Body)
	}
	if again := r.Close(); again != nil {
		t.Error("second Close should return nil")
	}
}

func TestReconstructor_TruncationExactLength(t *testing.T) {
	const limit = 50
	r := NewRequestReconstructor(limit)
	body := strings.Repeat("x", 100)
	wire := "POST /_search HTTP/1.1\r\nContent-Length: 100\r\n\r\n" + body

	msgs := feedAll(t, r, wire)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	msg := msgs[0]
	if !msg.Truncated {
		t.Fatal("expected truncated message")
	}
	if len(msg.Body) != limit {
		t.Errorf("expected body length exactly %d, got %d", limit, len(msg.Body))
	}
	if !strings.HasSuffix(string(msg.Body), TruncationMarker) {
		t.Errorf("body does not end with marker: %q", msg.Body)
	}
}

func TestReconstructor_BodyAtLimitNotTruncated(t *testing.T) {
	const limit = 50
	r := NewRequestReconstructor(limit)
	body := strings.Repeat("y", limit)
	wire := "POST /_search HTTP/1.1\r\nContent-Length: 50\r\n\r\n" + body

	msgs := feedAll(t, r, wire)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Truncated {
		t.Error("body exactly at the cap must not be truncated")
	}
	if string(msgs[0].Body) != body {
		t.Errorf("body altered: %q", msgs[0].Body)
	}
}

func TestReconstructor_TruncationKeepsFrameSync(t *testing.T) {
	r := NewRequestReconstructor(20)
	wire := "POST /a HTTP/1.1\r\nContent-Length: 100\r\n\r\n" + strings.Repeat("z", 100) +
		"GET /b HTTP/1.1\r\n\r\n"

	msgs := feedAll(t, r, wire)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !msgs[0].Truncated {
		t.Error("first message should be truncated")
	}
	if msgs[1].Path != "/b" {
		t.Errorf("frame sync lost after truncation: %s", msgs[1].Path)
	}
}

func TestReconstructor_BareLF(t *testing.T) {
	r := NewRequestReconstructor(0)
	msgs := feedAll(t, r, "GET /x HTTP/1.1\nHost: h\n\n")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].HeaderValue("Host") != "h" {
		t.Errorf("unexpected host header: %q", msgs[0].HeaderValue("Host"))
	}
}

func TestReconstructor_StrayCRLFBetweenMessages(t *testing.T) {
	r := NewRequestReconstructor(0)
	msgs := feedAll(t, r, "\r\nGET /x HTTP/1.1\r\n\r\n")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestReconstructor_MalformedContentLengthTolerated(t *testing.T) {
	r := NewRequestReconstructor(0)
	msgs := feedAll(t, r, "POST /x HTTP/1.1\r\nContent-Length: banana\r\n\r\n")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if len(msgs[0].Body) != 0 {
		t.Errorf("malformed length should mean no body, got %q", msgs[0].Body)
	}
}

func TestReconstructor_MalformedStartLineFails(t *testing.T) {
	r := NewRequestReconstructor(0)
	msgs := r.Feed([]byte("NOT A REQUEST\r\n"))
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
	if r.Err() == nil {
		t.Fatal("expected a parse error")
	}
	if got := r.Feed([]byte("GET /x HTTP/1.1\r\n\r\n")); got != nil {
		t.Error("failed reconstructor must not emit further messages")
	}
}

func TestReconstructor_DuplicateHeadersPreserved(t *testing.T) {
	r := NewRequestReconstructor(0)
	wire := "GET /x HTTP/1.1\r\nCookie: a=1\r\nCookie: b=2\r\n\r\n"
	msgs := feedAll(t, r, wire)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	vals := msgs[0].HeaderValues("Cookie")
	if len(vals) != 2 || vals[0] != "a=1" || vals[1] != "b=2" {
		t.Errorf("duplicate headers not preserved in order: %v", vals)
	}
}
