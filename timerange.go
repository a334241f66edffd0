package gateway

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// TimeRangeRule rejects search requests whose time window on a configured
// field is wider than a maximum, or absent when absence is configured to
// reject. It recognizes both structured range clauses and query_string
// clauses anywhere in the query tree, including inside bool compounds.
//
// The scan is depth-first and stops at the first clause that constrains the
// configured field; that single clause decides the outcome. A clause that
// cannot be fully understood (unknown format, bad zone, unparsable or open
// bounds) is treated as out of range.
type TimeRangeRule struct {
	indexRegex      *regexp.Regexp
	rangeField      string
	maxRange        time.Duration
	rejectIfMissing bool
	message         string

	// now is a test seam; production rules use time.Now.
	now func() time.Time
}

func newTimeRangeRule(params map[string]string) (Rule, error) {
	indexRegex, err := requireParam(params, "indexRegex")
	if err != nil {
		return nil, err
	}
	rangeField, err := requireParam(params, "rangeField")
	if err != nil {
		return nil, err
	}
	maxStr, err := requireParam(params, "maxTimeRangeMs")
	if err != nil {
		return nil, err
	}
	maxMs, err := strconv.ParseInt(maxStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("maxTimeRangeMs: %w", err)
	}
	rejectIfMissing := false
	if v, ok := params["rejectIfMissing"]; ok {
		rejectIfMissing, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("rejectIfMissing: %w", err)
		}
	}
	return NewTimeRangeRule(indexRegex, rangeField, maxMs, rejectIfMissing, params["responseMessage"])
}

// NewTimeRangeRule builds the rule. maxTimeRangeMs bounds the permitted
// window in milliseconds; a span exactly equal to it is allowed.
func NewTimeRangeRule(indexRegex, rangeField string, maxTimeRangeMs int64, rejectIfMissing bool, responseMessage string) (*TimeRangeRule, error) {
	re, err := compileFullMatch(indexRegex)
	if err != nil {
		return nil, fmt.Errorf("index regex: %w", err)
	}
	if rangeField == "" {
		return nil, fmt.Errorf("rangeField is empty")
	}
	if maxTimeRangeMs < 0 {
		return nil, fmt.Errorf("maxTimeRangeMs is negative")
	}
	if responseMessage == "" {
		responseMessage = fmt.Sprintf(
			"Time range on field '%s' exceeds the maximum of %dms or is missing", rangeField, maxTimeRangeMs)
	}
	return &TimeRangeRule{
		indexRegex:      re,
		rangeField:      rangeField,
		maxRange:        time.Duration(maxTimeRangeMs) * time.Millisecond,
		rejectIfMissing: rejectIfMissing,
		message:         responseMessage,
		now:             time.Now,
	}, nil
}

// Evaluate implements [Rule].
func (r *TimeRangeRule) Evaluate(msg *Message) Outcome {
	parsed := ParseSearchRequest(msg)
	if !matchesIndex(parsed, r.indexRegex) {
		return Pass
	}
	if r.withinMaxRange(parsed.Body.Get("query")) {
		return Pass
	}
	return Reject(http.StatusBadRequest, r.message)
}

func (r *TimeRangeRule) withinMaxRange(query gjson.Result) bool {
	found, ok := r.scan(query)
	if found {
		return ok
	}
	return !r.rejectIfMissing
}

// scan walks the query tree looking for the first clause that constrains
// the rule's field. found reports whether such a clause exists; ok is its
// verdict and only meaningful when found.
func (r *TimeRangeRule) scan(v gjson.Result) (found, ok bool) {
	switch {
	case v.IsObject():
		if rangeNode := objMember(v, "range"); rangeNode.IsObject() {
			if target := objMember(rangeNode, r.rangeField); target.Exists() {
				return true, r.checkRangeClause(target)
			}
		}
		if qs := objMember(v, "query_string"); qs.IsObject() {
			if f, o, decided := r.checkQueryString(qs); decided {
				return f, o
			}
		}
		v.ForEach(func(_, value gjson.Result) bool {
			found, ok = r.scan(value)
			return !found
		})
		return found, ok
	case v.IsArray():
		v.ForEach(func(_, value gjson.Result) bool {
			found, ok = r.scan(value)
			return !found
		})
		return found, ok
	}
	return false, false
}

// checkRangeClause validates one {"range":{field:{...}}} body.
func (r *TimeRangeRule) checkRangeClause(clause gjson.Result) bool {
	format := DefaultDateFormat
	if f := objMember(clause, "format"); f.Exists() && !f.IsObject() && !f.IsArray() {
		format = f.String()
	}
	zone := time.Local
	if tz := objMember(clause, "time_zone"); tz.Exists() && !tz.IsObject() && !tz.IsArray() {
		var err error
		zone, err = parseZone(tz.String())
		if err != nil {
			return false
		}
	}
	parser, err := newDateParser(format, zone)
	if err != nil {
		return false
	}

	lower := firstScalar(clause, "gte", "gt")
	upper := firstScalar(clause, "lte", "lt")
	now := r.now().In(zone)

	start := time.Unix(0, 0).In(zone)
	if lower != "" {
		if start, err = parser.parse(lower, now); err != nil {
			return false
		}
	}
	end := now
	if upper != "" {
		if end, err = parser.parse(upper, now); err != nil {
			return false
		}
	}
	return r.spanAllowed(start, end)
}

// checkQueryString inspects a query_string clause. decided is false when
// the clause does not constrain the rule's field (no ranges for it, or the
// query cannot be parsed at all) and the tree scan should continue.
func (r *TimeRangeRule) checkQueryString(qs gjson.Result) (found, ok, decided bool) {
	q := objMember(qs, "query")
	if !q.Exists() || q.IsObject() || q.IsArray() {
		return false, false, false
	}
	zone := time.Local
	if tz := objMember(qs, "time_zone"); tz.Exists() && !tz.IsObject() && !tz.IsArray() {
		var err error
		zone, err = parseZone(tz.String())
		if err != nil {
			return false, false, false
		}
	}
	defaultField := "*"
	if df := objMember(qs, "default_field"); df.Exists() && !df.IsObject() && !df.IsArray() {
		defaultField = df.String()
	}

	ranges, err := parseQueryStringRanges(scalarText(q), defaultField)
	if err != nil {
		return false, false, false
	}
	mine := false
	for _, rng := range ranges {
		if rng.field == r.rangeField {
			mine = true
			break
		}
	}
	if !mine {
		return false, false, false
	}

	// The clause constrains our field. Every range in it must target the
	// field and stay inside the window, otherwise the clause fails.
	parser, err := newDateParser(DefaultDateFormat, zone)
	if err != nil {
		return true, false, true
	}
	now := r.now().In(zone)
	for _, rng := range ranges {
		if rng.field != r.rangeField || rng.lower == "" || rng.upper == "" {
			return true, false, true
		}
		start, err := parser.parse(rng.lower, now)
		if err != nil {
			return true, false, true
		}
		end, err := parser.parse(rng.upper, now)
		if err != nil {
			return true, false, true
		}
		if !r.spanAllowed(start, end) {
			return true, false, true
		}
	}
	return true, true, true
}

func (r *TimeRangeRule) spanAllowed(start, end time.Time) bool {
	if start.After(end) {
		return false
	}
	return end.Sub(start) <= r.maxRange
}

// firstScalar returns the text of the first named member that exists and is
// a scalar, or "".
func firstScalar(v gjson.Result, names ...string) string {
	for _, name := range names {
		if m := objMember(v, name); m.Exists() && !m.IsObject() && !m.IsArray() {
			return scalarText(m)
		}
	}
	return ""
}

// objMember looks up a literal member name on a JSON object. Unlike
// Result.Get this never interprets the name as a path expression, so field
// names containing dots or wildcards resolve correctly.
func objMember(v gjson.Result, name string) gjson.Result {
	var out gjson.Result
	v.ForEach(func(key, value gjson.Result) bool {
		if key.String() == name {
			out = value
			return false
		}
		return true
	})
	return out
}
