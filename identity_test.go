package gateway

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
)

func defaultExtractor(t *testing.T) *IdentityExtractor {
	t.Helper()
	e, err := NewIdentityExtractor("", "")
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestIdentityExtractor_BasicAuth(t *testing.T) {
	e := defaultExtractor(t)
	msg := &Message{
		Method: "GET",
		Path:   "/_search",
		Headers: []Header{
			{"Authorization", "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:secret"))},
		},
	}
	if got := e.UserID(msg); got != "alice" {
		t.Errorf("expected alice, got %q", got)
	}
}

func TestIdentityExtractor_BasicAuthNoColon(t *testing.T) {
	e := defaultExtractor(t)
	msg := &Message{
		Method:  "GET",
		Headers: []Header{{"Authorization", "Basic " + base64.StdEncoding.EncodeToString([]byte("bob"))}},
	}
	if got := e.UserID(msg); got != "bob" {
		t.Errorf("expected bob, got %q", got)
	}
}

func TestIdentityExtractor_BasicAuthDecodeFailureReturnsRawHeader(t *testing.T) {
	e := defaultExtractor(t)
	raw := "Basic !!!not-base64!!!"
	msg := &Message{Method: "GET", Headers: []Header{{"Authorization", raw}}}
	if got := e.UserID(msg); got != raw {
		t.Errorf("decode failure should return the raw header, got %q", got)
	}
}

func TestIdentityExtractor_NoIdentity(t *testing.T) {
	e := defaultExtractor(t)
	msg := &Message{Method: "GET", Path: "/_search"}
	if got := e.UserID(msg); got != "" {
		t.Errorf("expected empty user id, got %q", got)
	}
}

// samlBody builds a SAMLResponse form body the way a real IdP posts it:
// XML, base64 with line wrapping, then url-encoded.
func samlBody(t *testing.T, xml string) []byte {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString([]byte(xml))
	var wrapped strings.Builder
	for i := 0; i < len(encoded); i += 64 {
		end := i + 64
		if end > len(encoded) {
			end = len(encoded)
		}
		wrapped.WriteString(encoded[i:end])
		wrapped.WriteString("\n")
	}
	return []byte("SAMLResponse=" + url.QueryEscape(wrapped.String()))
}

func TestIdentityExtractor_SAMLResponse(t *testing.T) {
	e := defaultExtractor(t)
	xml := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<saml2:Assertion xmlns:saml2="urn:oasis:names:tc:SAML:2.0:assertion">` +
		`<saml2:Subject><saml2:NameID>carol@example.com</saml2:NameID></saml2:Subject>` +
		`</saml2:Assertion>`

	msg := &Message{
		Method: "POST",
		Path:   "/_dashboards/_opendistro/_security/saml/acs",
		Body:   samlBody(t, xml),
	}
	if got := e.UserID(msg); got != "carol@example.com" {
		t.Errorf("expected carol@example.com, got %q", got)
	}
}

func TestIdentityExtractor_SAMLFailuresYieldEmpty(t *testing.T) {
	e := defaultExtractor(t)
	acs := "/_dashboards/_opendistro/_security/saml/acs"

	cases := []struct {
		name string
		body []byte
	}{
		{"wrong form field", []byte("Other=abc")},
		{"not base64", []byte("SAMLResponse=%21%21%21")},
		{"not xml", []byte("SAMLResponse=" + url.QueryEscape(base64.StdEncoding.EncodeToString([]byte("plain text"))))},
	}
	for _, tc := range cases {
		msg := &Message{Method: "POST", Path: acs, Body: tc.body}
		if got := e.UserID(msg); got != "" {
			t.Errorf("%s: expected empty user id, got %q", tc.name, got)
		}
	}
}

func TestIdentityExtractor_UserToken(t *testing.T) {
	e := defaultExtractor(t)
	msg := &Message{
		Method: "GET",
		Headers: []Header{
			{"Cookie", "foo=1; security_authentication_saml1=tok123"},
		},
	}
	if got := e.UserToken(msg); got != "tok123" {
		t.Errorf("expected tok123, got %q", got)
	}
}

func TestIdentityExtractor_UserTokenSetCookieFallback(t *testing.T) {
	e := defaultExtractor(t)

	// No Cookie header at all: Set-Cookie is searched.
	msg := &Message{
		StatusCode: 200,
		Headers: []Header{
			{"Set-Cookie", "security_authentication_saml1=tok456; Path=/; HttpOnly"},
		},
	}
	if got := e.UserToken(msg); got != "tok456" {
		t.Errorf("expected tok456, got %q", got)
	}

	// A present Cookie header suppresses the fallback even when it has no
	// matching cookie.
	msg = &Message{
		Method: "GET",
		Headers: []Header{
			{"Cookie", "unrelated=1"},
			{"Set-Cookie", "security_authentication_saml1=tok789"},
		},
	}
	if got := e.UserToken(msg); got != "" {
		t.Errorf("Cookie presence must suppress the Set-Cookie fallback, got %q", got)
	}
}

func TestIdentityExtractor_CustomCookieName(t *testing.T) {
	e, err := NewIdentityExtractor("", "my_session")
	if err != nil {
		t.Fatal(err)
	}
	msg := &Message{Method: "GET", Headers: []Header{{"Cookie", "my_session=abc"}}}
	if got := e.UserToken(msg); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
}
