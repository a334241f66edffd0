package gateway

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/tidwall/gjson"
)

// RegexFieldRule rejects search requests where the value at a configured
// field path inside the search body matches a regex. The field path uses
// gjson's dot/bracket syntax (e.g. "query.prefix.speaker"); the regex is
// applied with whole-string semantics.
//
// A scalar result is matched by its text form. An array result matches when
// any element's text (or raw JSON, for composite elements) fully matches.
// An absent or null result, and any evaluation error, pass the request.
type RegexFieldRule struct {
	indexRegex *regexp.Regexp
	fieldPath  string
	fieldRegex *regexp.Regexp
	message    string
}

func newRegexFieldRule(params map[string]string) (Rule, error) {
	fieldName, err := requireParam(params, "fieldName")
	if err != nil {
		return nil, err
	}
	fieldRegex, err := requireParam(params, "fieldRegex")
	if err != nil {
		return nil, err
	}
	indexRegex, err := requireParam(params, "indexRegex")
	if err != nil {
		return nil, err
	}
	return NewRegexFieldRule(fieldName, fieldRegex, indexRegex, params["responseMessage"])
}

// NewRegexFieldRule builds the rule. An empty responseMessage selects the
// default.
func NewRegexFieldRule(fieldName, fieldRegex, indexRegex, responseMessage string) (*RegexFieldRule, error) {
	indexRe, err := compileFullMatch(indexRegex)
	if err != nil {
		return nil, fmt.Errorf("index regex: %w", err)
	}
	fieldRe, err := compileFullMatch(fieldRegex)
	if err != nil {
		return nil, fmt.Errorf("field regex: %w", err)
	}
	if responseMessage == "" {
		responseMessage = "Field: '" + fieldName + "' matches regex pattern: '" + fieldRegex + "'"
	}
	return &RegexFieldRule{
		indexRegex: indexRe,
		fieldPath:  fieldName,
		fieldRegex: fieldRe,
		message:    responseMessage,
	}, nil
}

// Evaluate implements [Rule].
func (r *RegexFieldRule) Evaluate(msg *Message) Outcome {
	parsed := ParseSearchRequest(msg)
	if !matchesIndex(parsed, r.indexRegex) {
		return Pass
	}

	value := parsed.Body.Get(r.fieldPath)
	if !value.Exists() || value.Type == gjson.Null {
		return Pass
	}

	if value.IsArray() {
		for _, elem := range value.Array() {
			if r.fieldRegex.MatchString(elementText(elem)) {
				return Reject(http.StatusBadRequest, r.message)
			}
		}
		return Pass
	}
	if r.fieldRegex.MatchString(elementText(value)) {
		return Reject(http.StatusBadRequest, r.message)
	}
	return Pass
}

// elementText renders a JSON value for regex matching: text form for
// scalars, raw JSON for objects and nested arrays.
func elementText(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return "null"
	case gjson.JSON:
		return v.Raw
	default:
		return v.String()
	}
}
