package gateway

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/tidwall/gjson"
)

// DenyListStructureRule rejects search requests whose body is structurally
// identical to one of a configured list of deny-listed query templates.
//
// Bodies and templates are compared through a canonical flattening: every
// leaf becomes a path string where "." joins object keys, ":" marks array
// traversal (positions are deliberately not encoded), and the leaf value is
// appended as "=value" ("=null" for null; an empty object or array
// contributes just its path). Two documents match when their flattened path
// sets are equal, which makes the comparison insensitive to object key order
// and to literal array element positions.
type DenyListStructureRule struct {
	indexRegex *regexp.Regexp
	templates  []gjson.Result
	message    string
}

func newDenyListStructureRule(params map[string]string) (Rule, error) {
	indexRegex, err := requireParam(params, "indexRegex")
	if err != nil {
		return nil, err
	}
	queryStructure, err := requireParam(params, "queryStructure")
	if err != nil {
		return nil, err
	}
	return NewDenyListStructureRule(indexRegex, queryStructure, params["responseMessage"])
}

// NewDenyListStructureRule builds the rule from an index regex and a JSON
// array of deny-listed body templates. An empty responseMessage selects the
// default.
func NewDenyListStructureRule(indexRegex, queryStructure, responseMessage string) (*DenyListStructureRule, error) {
	re, err := compileFullMatch(indexRegex)
	if err != nil {
		return nil, fmt.Errorf("index regex: %w", err)
	}
	if !gjson.Valid(queryStructure) {
		return nil, fmt.Errorf("deny list is not valid JSON")
	}
	if responseMessage == "" {
		responseMessage = "Query matches one of the deny-listed structures: '" + queryStructure + "'"
	}
	return &DenyListStructureRule{
		indexRegex: re,
		templates:  gjson.Parse(queryStructure).Array(),
		message:    responseMessage,
	}, nil
}

// Evaluate implements [Rule].
func (r *DenyListStructureRule) Evaluate(msg *Message) Outcome {
	parsed := ParseSearchRequest(msg)
	if !matchesIndex(parsed, r.indexRegex) {
		return Pass
	}

	bodyPaths := flattenJSON(parsed.Body)
	for _, tmpl := range r.templates {
		if pathSetsEqual(bodyPaths, flattenJSON(tmpl)) {
			return Reject(http.StatusBadRequest, r.message)
		}
	}
	return Pass
}

// flattenJSON walks a JSON document and collects the canonical path string
// of every leaf.
func flattenJSON(v gjson.Result) map[string]struct{} {
	paths := make(map[string]struct{})
	buildPaths(v, "", paths)
	return paths
}

func buildPaths(v gjson.Result, prefix string, paths map[string]struct{}) {
	switch {
	case v.IsObject():
		empty := true
		v.ForEach(func(key, value gjson.Result) bool {
			empty = false
			p := key.String()
			if prefix != "" {
				p = prefix + "." + p
			}
			buildPaths(value, p, paths)
			return true
		})
		if empty {
			paths[prefix] = struct{}{}
		}
	case v.IsArray():
		empty := true
		v.ForEach(func(_, value gjson.Result) bool {
			empty = false
			buildPaths(value, prefix+":", paths)
			return true
		})
		if empty {
			paths[prefix] = struct{}{}
		}
	case v.Type == gjson.Null:
		paths[prefix+"=null"] = struct{}{}
	default:
		paths[prefix+"="+v.String()] = struct{}{}
	}
}

func pathSetsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for p := range a {
		if _, ok := b[p]; !ok {
			return false
		}
	}
	return true
}
