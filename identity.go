package gateway

import (
	"bytes"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Defaults for SAML-based identity extraction. The XPath matches element
// local names, so namespace-prefixed assertions resolve the same way.
const (
	DefaultSAMLUserIDXPath     = "/Assertion/Subject/NameID[text()]"
	DefaultSAMLTokenCookieName = "security_authentication_saml1"

	samlACSPath        = "/_dashboards/_opendistro/_security/saml/acs"
	samlResponsePrefix = "SAMLResponse="
)

// IdentityExtractor derives a user id and a session token from proxied
// traffic. It understands Basic authorization headers, SAML assertions
// POSTed to the dashboards ACS endpoint, and session cookies.
//
// Extraction never fails: anything that cannot be parsed degrades to an
// empty result. This does not work with SigV4-signed requests.
type IdentityExtractor struct {
	samlUserIDXPath *xpath.Expr
	tokenCookieName string
}

// NewIdentityExtractor builds an extractor. Empty arguments select the
// defaults; samlUserIDXPath must compile as an XPath expression.
func NewIdentityExtractor(samlUserIDXPath, tokenCookieName string) (*IdentityExtractor, error) {
	if samlUserIDXPath == "" {
		samlUserIDXPath = DefaultSAMLUserIDXPath
	}
	if tokenCookieName == "" {
		tokenCookieName = DefaultSAMLTokenCookieName
	}
	expr, err := xpath.Compile(samlUserIDXPath)
	if err != nil {
		return nil, err
	}
	return &IdentityExtractor{samlUserIDXPath: expr, tokenCookieName: tokenCookieName}, nil
}

// UserID extracts the requesting user's id, or "" when none can be derived.
// A Basic Authorization header wins; otherwise a SAML assertion POSTed to
// the ACS endpoint is consulted.
func (e *IdentityExtractor) UserID(msg *Message) string {
	auth := msg.HeaderValue("Authorization")
	if strings.HasPrefix(auth, "Basic ") {
		return userIDFromBasicAuth(auth)
	}
	if msg.Path == samlACSPath {
		return e.userIDFromSAMLResponse(msg.Body)
	}
	return ""
}

// userIDFromBasicAuth decodes the credential and returns the username. A
// header that fails to decode is returned whole: a degraded but non-empty
// signal beats dropping the identity.
func userIDFromBasicAuth(auth string) string {
	decoded, err := base64.StdEncoding.DecodeString(auth[len("Basic "):])
	if err != nil {
		return auth
	}
	user, _, _ := strings.Cut(string(decoded), ":")
	return user
}

// userIDFromSAMLResponse unwraps a SAMLResponse form body (url-encoded,
// base64, line-wrapped XML) and evaluates the configured XPath against it.
func (e *IdentityExtractor) userIDFromSAMLResponse(body []byte) string {
	rest, ok := strings.CutPrefix(string(body), samlResponsePrefix)
	if !ok {
		return ""
	}
	decoded, err := url.QueryUnescape(rest)
	if err != nil {
		return ""
	}
	decoded = strings.NewReplacer("\r", "", "\n", "").Replace(decoded)
	raw, err := base64.StdEncoding.DecodeString(decoded)
	if err != nil {
		return ""
	}
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	node := xmlquery.QuerySelector(doc, e.samlUserIDXPath)
	if node == nil {
		return ""
	}
	return node.InnerText()
}

// UserToken returns the value of the configured session cookie, or "". When
// no Cookie header is present, Set-Cookie headers are searched instead;
// that fallback mixes request and response cookie semantics but is kept for
// compatibility with existing deployments.
func (e *IdentityExtractor) UserToken(msg *Message) string {
	headers := msg.HeaderValues("Cookie")
	if len(headers) == 0 {
		headers = msg.HeaderValues("Set-Cookie")
	}
	for _, h := range headers {
		if v, ok := cookieValue(h, e.tokenCookieName); ok {
			return v
		}
	}
	return ""
}

// cookieValue scans a cookie header value for a name=value pair.
func cookieValue(header, name string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if k == name {
			return strings.Trim(v, `"`), true
		}
	}
	return "", false
}
