package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDateFormat is the format expression applied when a range clause
// does not name one, matching the OpenSearch default.
const DefaultDateFormat = "strict_date_optional_time||epoch_millis"

// dateParser resolves OpenSearch-style date expressions: one or more named
// formats joined by "||", plus "now"-anchored date math with optional
// rounding (e.g. "now-15m", "now/d", "2024-01-01||+1M/d").
type dateParser struct {
	formats []string
	zone    *time.Location
}

// strictDateOptionalTime layouts, tried in order. Layouts without an offset
// are interpreted in the parser's zone.
var isoLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15",
	"2006-01-02",
	"2006-01",
	"2006",
}

func newDateParser(format string, zone *time.Location) (*dateParser, error) {
	if format == "" {
		format = DefaultDateFormat
	}
	formats := strings.Split(format, "||")
	for _, f := range formats {
		switch f {
		case "strict_date_optional_time", "date_optional_time", "epoch_millis", "epoch_second":
		default:
			return nil, fmt.Errorf("unsupported date format %q", f)
		}
	}
	return &dateParser{formats: formats, zone: zone}, nil
}

// parse resolves a date expression against the given "now" instant.
func (p *dateParser) parse(value string, now time.Time) (time.Time, error) {
	if rest, ok := strings.CutPrefix(value, "now"); ok {
		return applyDateMath(now.In(p.zone), rest)
	}

	anchor := value
	var math string
	if i := strings.Index(value, "||"); i >= 0 {
		anchor = value[:i]
		math = value[i+2:]
	}

	t, err := p.parseAnchor(anchor)
	if err != nil {
		return time.Time{}, err
	}
	if math == "" {
		return t, nil
	}
	return applyDateMath(t, math)
}

func (p *dateParser) parseAnchor(s string) (time.Time, error) {
	for _, f := range p.formats {
		switch f {
		case "epoch_millis":
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return time.UnixMilli(n).In(p.zone), nil
			}
		case "epoch_second":
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return time.Unix(n, 0).In(p.zone), nil
			}
		default:
			for _, layout := range isoLayouts {
				if t, err := time.ParseInLocation(layout, s, p.zone); err == nil {
					return t, nil
				}
			}
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}

// applyDateMath evaluates a +N<unit>/-N<unit>//<unit> suffix chain.
func applyDateMath(t time.Time, expr string) (time.Time, error) {
	for len(expr) > 0 {
		switch expr[0] {
		case '/':
			if len(expr) < 2 {
				return time.Time{}, fmt.Errorf("dangling rounding in date math")
			}
			unit := expr[1:2]
			var err error
			t, err = roundDown(t, unit)
			if err != nil {
				return time.Time{}, err
			}
			expr = expr[2:]
		case '+', '-':
			sign := 1
			if expr[0] == '-' {
				sign = -1
			}
			expr = expr[1:]
			i := 0
			for i < len(expr) && expr[i] >= '0' && expr[i] <= '9' {
				i++
			}
			if i == 0 || i == len(expr) {
				return time.Time{}, fmt.Errorf("malformed date math offset")
			}
			n, _ := strconv.Atoi(expr[:i])
			n *= sign
			unit := expr[i : i+1]
			var err error
			t, err = addUnit(t, n, unit)
			if err != nil {
				return time.Time{}, err
			}
			expr = expr[i+1:]
		default:
			return time.Time{}, fmt.Errorf("malformed date math %q", expr)
		}
	}
	return t, nil
}

func addUnit(t time.Time, n int, unit string) (time.Time, error) {
	switch unit {
	case "s":
		return t.Add(time.Duration(n) * time.Second), nil
	case "m":
		return t.Add(time.Duration(n) * time.Minute), nil
	case "h", "H":
		return t.Add(time.Duration(n) * time.Hour), nil
	case "d":
		return t.AddDate(0, 0, n), nil
	case "w":
		return t.AddDate(0, 0, 7*n), nil
	case "M":
		return t.AddDate(0, n, 0), nil
	case "y":
		return t.AddDate(n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("unknown date math unit %q", unit)
}

func roundDown(t time.Time, unit string) (time.Time, error) {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	loc := t.Location()
	switch unit {
	case "s":
		return time.Date(y, mo, d, h, mi, s, 0, loc), nil
	case "m":
		return time.Date(y, mo, d, h, mi, 0, 0, loc), nil
	case "h", "H":
		return time.Date(y, mo, d, h, 0, 0, 0, loc), nil
	case "d":
		return time.Date(y, mo, d, 0, 0, 0, 0, loc), nil
	case "w":
		delta := (int(t.Weekday()) + 6) % 7 // ISO week starts Monday
		return time.Date(y, mo, d-delta, 0, 0, 0, 0, loc), nil
	case "M":
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc), nil
	case "y":
		return time.Date(y, 1, 1, 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("unknown rounding unit %q", unit)
}

// parseZone resolves a time_zone value: an ISO 8601 UTC offset when it
// starts with '+' or '-', otherwise an IANA zone id.
func parseZone(s string) (*time.Location, error) {
	if s == "" {
		return time.Local, nil
	}
	if s[0] == '+' || s[0] == '-' {
		return parseOffsetZone(s)
	}
	return time.LoadLocation(s)
}

func parseOffsetZone(s string) (*time.Location, error) {
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	rest := strings.ReplaceAll(s[1:], ":", "")
	var hours, minutes int
	switch len(rest) {
	case 2:
		h, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("malformed zone offset %q", s)
		}
		hours = h
	case 4:
		h, err1 := strconv.Atoi(rest[:2])
		m, err2 := strconv.Atoi(rest[2:])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("malformed zone offset %q", s)
		}
		hours, minutes = h, m
	default:
		return nil, fmt.Errorf("malformed zone offset %q", s)
	}
	if hours > 18 || minutes > 59 {
		return nil, fmt.Errorf("zone offset %q out of range", s)
	}
	return time.FixedZone(s, sign*(hours*3600+minutes*60)), nil
}
