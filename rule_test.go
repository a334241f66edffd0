package gateway

import (
	"net/http"
	"strings"
	"testing"
)

func TestRejectionResponse_SanitizesReasonPhrase(t *testing.T) {
	out := Reject(http.StatusBadRequest, "bad query\r\nX-Injected: 1\r\n\r\nHTTP/1.1 200 OK")
	resp := string(rejectionResponse(out))

	if !strings.HasPrefix(resp, "HTTP/1.1 400 ") {
		t.Fatalf("unexpected status line: %q", resp)
	}
	if strings.Contains(resp, "\nX-Injected") {
		t.Errorf("reason phrase split the response: %q", resp)
	}
	// The full message still reaches the client through the JSON body.
	if !strings.Contains(resp, `"type":"governance_rejection"`) {
		t.Errorf("rejection body missing error type: %q", resp)
	}
}

func TestNewRule_UnknownKind(t *testing.T) {
	if _, err := NewRule("NoSuchRule", nil); err == nil {
		t.Error("unknown rule kind should fail")
	}
}
