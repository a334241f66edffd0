package gateway

import (
	"fmt"
	"strings"
)

// termRange is a range constraint extracted from a query_string query.
// Empty bounds correspond to open ("*") endpoints.
type termRange struct {
	field string
	lower string
	upper string
}

// Bound values synthesized for bare comparator terms: ">now-1h" becomes
// the range (now-1h, now] and "<now-1h" becomes [1970-01-01, now-1h).
const (
	boundNow   = "now"
	boundEpoch = "1970-01-01"
)

// parseQueryStringRanges scans a Lucene-style query string and collects
// every range constraint in it. Term, phrase, and boolean structure is
// consumed but not recorded. Comparator prefixes on terms (>", ">=", "<",
// "<=") are treated as half-open date ranges the way the dashboards query
// bar writes them. Returns an error on input the grammar cannot frame.
func parseQueryStringRanges(query, defaultField string) ([]termRange, error) {
	p := &queryStringScanner{src: query, defaultField: defaultField}
	if err := p.scan(); err != nil {
		return nil, err
	}
	return p.ranges, nil
}

type queryStringScanner struct {
	src          string
	pos          int
	defaultField string
	ranges       []termRange
}

func (p *queryStringScanner) scan() error {
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil
		}
		switch c := p.src[p.pos]; {
		case c == '(' || c == ')':
			p.pos++
		case c == '"':
			if _, err := p.readQuoted(); err != nil {
				return err
			}
		case c == '[' || c == '{':
			if err := p.readRange(p.defaultField); err != nil {
				return err
			}
		case c == '>' || c == '<':
			if err := p.readComparator(p.defaultField); err != nil {
				return err
			}
		case c == '+' || c == '-' || c == '!':
			p.pos++
		case c == ':':
			return fmt.Errorf("unexpected ':' at offset %d", p.pos)
		default:
			if err := p.readClause(); err != nil {
				return err
			}
		}
	}
}

// readClause consumes a bare term, an operator keyword, or a fielded value.
func (p *queryStringScanner) readClause() error {
	tok := p.readToken()
	if tok == "" {
		return fmt.Errorf("unexpected character %q at offset %d", p.src[p.pos], p.pos)
	}
	if p.pos >= len(p.src) || p.src[p.pos] != ':' {
		// Bare term or AND/OR/NOT keyword. Nothing to record.
		return nil
	}
	p.pos++ // ':'
	field := tok

	if p.pos >= len(p.src) {
		return fmt.Errorf("field %q has no value", field)
	}
	switch c := p.src[p.pos]; {
	case c == '[' || c == '{':
		return p.readRange(field)
	case c == '>' || c == '<':
		return p.readComparator(field)
	case c == '"':
		_, err := p.readQuoted()
		return err
	case c == '(':
		// Grouped field query, e.g. status:(200 OR 404). The group is
		// handled by the main loop; ranges inside keep the default field
		// which is how Lucene's parser behaves for nested clauses.
		return nil
	default:
		if p.readToken() == "" {
			return fmt.Errorf("field %q has no value", field)
		}
		return nil
	}
}

// readRange consumes "[lower TO upper]" (or the exclusive "{...}" form).
func (p *queryStringScanner) readRange(field string) error {
	p.pos++ // opening bracket
	lower, err := p.readBound()
	if err != nil {
		return err
	}
	p.skipSpace()
	if !p.cutKeyword("TO") {
		return fmt.Errorf("range on %q missing TO", field)
	}
	upper, err := p.readBound()
	if err != nil {
		return err
	}
	p.skipSpace()
	if p.pos >= len(p.src) || (p.src[p.pos] != ']' && p.src[p.pos] != '}') {
		return fmt.Errorf("range on %q not closed", field)
	}
	p.pos++
	p.ranges = append(p.ranges, termRange{field: field, lower: lower, upper: upper})
	return nil
}

// readComparator consumes ">value" style terms and records the implied
// half-open date range.
func (p *queryStringScanner) readComparator(field string) error {
	op := string(p.src[p.pos])
	p.pos++
	if p.pos < len(p.src) && p.src[p.pos] == '=' {
		op += "="
		p.pos++
	}
	value := p.readToken()
	if value == "" {
		return fmt.Errorf("comparator %q on %q has no term", op, field)
	}
	switch op[0] {
	case '>':
		p.ranges = append(p.ranges, termRange{field: field, lower: value, upper: boundNow})
	case '<':
		p.ranges = append(p.ranges, termRange{field: field, lower: boundEpoch, upper: value})
	}
	return nil
}

func (p *queryStringScanner) readBound() (string, error) {
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '"' {
		return p.readQuoted()
	}
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == ' ' || c == '\t' || c == ']' || c == '}' {
			break
		}
		p.pos++
	}
	bound := p.src[start:p.pos]
	if bound == "" {
		return "", fmt.Errorf("empty range bound at offset %d", start)
	}
	if bound == "*" {
		return "", nil
	}
	return bound, nil
}

func (p *queryStringScanner) readQuoted() (string, error) {
	start := p.pos
	p.pos++ // opening quote
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
		case '"':
			s := p.src[start+1 : p.pos]
			p.pos++
			return s, nil
		default:
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated phrase at offset %d", start)
}

// readToken consumes a run of term characters, honoring backslash escapes.
func (p *queryStringScanner) readToken() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\\' && p.pos+1 < len(p.src) {
			p.pos += 2
			continue
		}
		if strings.ContainsRune(" \t\r\n():[]{}\"<>", rune(c)) {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *queryStringScanner) cutKeyword(kw string) bool {
	if len(p.src)-p.pos < len(kw) {
		return false
	}
	if !strings.EqualFold(p.src[p.pos:p.pos+len(kw)], kw) {
		return false
	}
	p.pos += len(kw)
	return true
}

func (p *queryStringScanner) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}
