package gateway

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	dashboardsSearchPrefix = "/_dashboards/internal/search"
	consoleProxyPath       = "/_dashboards/api/console/proxy"
	searchKeyword          = "_search"
	indexWildcard          = "*"
)

// ParsedSearchRequest is the outcome of [ParseSearchRequest]: the target
// index expression and the JSON search body.
type ParsedSearchRequest struct {
	Index string
	Body  gjson.Result
}

// ParseSearchRequest extracts the search index and body from a reconstructed
// request. Two URL shapes are recognized: the dashboards internal search API
// (fixed path prefix, index and body nested under "params") and the direct
// REST shape ("/_search" or "/<index>/_search"). Requests routed through the
// dashboards console proxy endpoint are resolved via their single "path"
// query parameter first.
//
// Anything else (other methods, unknown shapes, blank or unparsable bodies,
// missing fields) yields nil. The parser never fails a request.
func ParseSearchRequest(msg *Message) *ParsedSearchRequest {
	if msg.Method != "GET" && msg.Method != "POST" {
		return nil
	}

	path, ok := effectivePath(msg)
	if !ok {
		return nil
	}

	body := string(msg.Body)
	if strings.TrimSpace(body) == "" || !gjson.Valid(body) {
		return nil
	}
	root := gjson.Parse(body)

	if strings.HasPrefix(path, dashboardsSearchPrefix) {
		index := root.Get("params.index")
		searchBody := root.Get("params.body")
		if !index.Exists() || !searchBody.Exists() {
			return nil
		}
		return &ParsedSearchRequest{Index: scalarText(index), Body: searchBody}
	}

	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}

	var index string
	switch {
	case len(segments) == 1 && segments[0] == searchKeyword:
		index = indexWildcard
	case len(segments) >= 2 && segments[1] == searchKeyword:
		index = segments[0]
	default:
		return nil
	}

	return &ParsedSearchRequest{Index: index, Body: root}
}

// effectivePath resolves the console-proxy indirection: when the literal
// path is the console proxy endpoint, the real path is carried in a single
// "path" query parameter. Zero or multiple occurrences disqualify the
// request.
func effectivePath(msg *Message) (string, bool) {
	if msg.Path != consoleProxyPath {
		return msg.Path, true
	}
	params := msg.Query["path"]
	if len(params) != 1 {
		return "", false
	}
	return params[0], true
}

// scalarText renders a JSON value the way Jackson's asText does: raw text
// for scalars, "null" for null, raw JSON for composites.
func scalarText(v gjson.Result) string {
	if v.Type == gjson.Null {
		return "null"
	}
	return v.String()
}
