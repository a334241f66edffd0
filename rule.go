package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// rejectionErrorType is the "type" field on rejection response bodies.
const rejectionErrorType = "governance_rejection"

// Outcome is the immutable result of evaluating a rule against a request.
// The zero value is a pass.
type Outcome struct {
	// Rejected is true when the rule matched a configured deny condition.
	Rejected bool

	// StatusCode is the HTTP status for the rejection response.
	StatusCode int

	// Message is the human-readable rejection reason. Always non-empty on
	// a rejection.
	Message string
}

// Pass is the shared pass outcome.
var Pass = Outcome{}

// Reject builds a rejection outcome with the given status and reason.
func Reject(status int, message string) Outcome {
	return Outcome{Rejected: true, StatusCode: status, Message: message}
}

// Rule is a single governance rule. Implementations are constructed once at
// startup, never mutated afterwards, and shared read-only across all
// connections. Evaluate must be synchronous and must not perform I/O.
type Rule interface {
	// Evaluate inspects a reconstructed request and decides whether it may
	// proceed. Rules fail open: any precondition that cannot be
	// established yields [Pass].
	Evaluate(msg *Message) Outcome
}

// RuleConstructor builds a rule from its named config parameters. Values
// are strings: the loader passes string config values through verbatim and
// re-serializes everything else to compact JSON text.
type RuleConstructor func(params map[string]string) (Rule, error)

// ruleRegistry maps a rule-kind tag to its typed constructor. Tags are the
// bare rule names; the loader also accepts fully qualified legacy names by
// their last segment.
var ruleRegistry = map[string]RuleConstructor{
	"RejectSearchQueryDenyListRule": newDenyListStructureRule,
	"RejectSearchRegexFieldRule":    newRegexFieldRule,
	"RejectTimeRangeRule":           newTimeRangeRule,
	"UserDenyListRule":              newUserDenyListRule,
}

// NewRule constructs a rule of the named kind from its config parameters.
func NewRule(kind string, params map[string]string) (Rule, error) {
	if i := strings.LastIndexByte(kind, '.'); i >= 0 {
		kind = kind[i+1:]
	}
	ctor, ok := ruleRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown rule kind %q", kind)
	}
	rule, err := ctor(params)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", kind, err)
	}
	return rule, nil
}

// requireParam fetches a mandatory rule config parameter.
func requireParam(params map[string]string, name string) (string, error) {
	v, ok := params[name]
	if !ok {
		return "", fmt.Errorf("missing config parameter %q", name)
	}
	return v, nil
}

// compileFullMatch compiles a pattern with whole-string semantics: the
// pattern must match the entire input, not a substring.
func compileFullMatch(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`\A(?:` + pattern + `)\z`)
}

// rejectionBody is the JSON document written on a rejected request.
type rejectionBody struct {
	Error  rejectionError `json:"error"`
	Status int            `json:"status"`
}

type rejectionError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// rejectionResponse serializes the HTTP response for a rejection outcome.
// The reason phrase on the status line carries the rule's message.
func rejectionResponse(o Outcome) []byte {
	body, err := json.Marshal(rejectionBody{
		Error:  rejectionError{Type: rejectionErrorType, Reason: o.Message},
		Status: o.StatusCode,
	})
	if err != nil {
		body = []byte(`{"error":{"type":"` + rejectionErrorType + `"}}`)
	}

	// The reason phrase is operator-configured; CR and LF would split the
	// status line.
	reason := strings.NewReplacer("\r", " ", "\n", " ").Replace(o.Message)

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", o.StatusCode, reason)
	fmt.Fprintf(&b, "Content-Type: application/json; charset=UTF-8\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("\r\n")
	b.Write(body)
	return []byte(b.String())
}

// matchesIndex applies the shared index gate: a rule only fires when the
// request parses as a search and its index fully matches the rule's regex.
func matchesIndex(parsed *ParsedSearchRequest, indexRegex *regexp.Regexp) bool {
	return parsed != nil && indexRegex.MatchString(parsed.Index)
}
