package gateway

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// UserDenyListRule rejects requests from users on a literal deny-set. Both
// the extracted user id and the extracted session token are checked; a hit
// on either rejects with 401 rather than the generic 400, since the
// condition is about who is asking, not what they asked.
type UserDenyListRule struct {
	extractor *IdentityExtractor
	denied    map[string]struct{}
	message   string
}

func newUserDenyListRule(params map[string]string) (Rule, error) {
	userDenyList, err := requireParam(params, "userDenyList")
	if err != nil {
		return nil, err
	}
	return NewUserDenyListRule(
		userDenyList,
		params["samlUserIdXPath"],
		params["samlTokenCookieName"],
		params["responseMessage"])
}

// NewUserDenyListRule builds the rule from a JSON array of denied user ids
// and tokens. Empty XPath and cookie-name arguments select the extractor
// defaults.
func NewUserDenyListRule(userDenyList, samlUserIDXPath, samlTokenCookieName, responseMessage string) (*UserDenyListRule, error) {
	if !gjson.Valid(userDenyList) {
		return nil, fmt.Errorf("user deny list is not valid JSON")
	}
	denied := make(map[string]struct{})
	for _, entry := range gjson.Parse(userDenyList).Array() {
		denied[scalarText(entry)] = struct{}{}
	}
	extractor, err := NewIdentityExtractor(samlUserIDXPath, samlTokenCookieName)
	if err != nil {
		return nil, fmt.Errorf("identity extractor: %w", err)
	}
	if responseMessage == "" {
		responseMessage = "Your userId or token is on the list of denied users."
	}
	return &UserDenyListRule{extractor: extractor, denied: denied, message: responseMessage}, nil
}

// Evaluate implements [Rule].
func (r *UserDenyListRule) Evaluate(msg *Message) Outcome {
	if id := r.extractor.UserID(msg); id != "" {
		if _, ok := r.denied[id]; ok {
			return Reject(http.StatusUnauthorized, r.message)
		}
	}
	if token := r.extractor.UserToken(msg); token != "" {
		if _, ok := r.denied[token]; ok {
			return Reject(http.StatusUnauthorized, r.message)
		}
	}
	return Pass
}
