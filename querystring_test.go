package gateway

import "testing"

func TestParseQueryStringRanges_Bracketed(t *testing.T) {
	ranges, err := parseQueryStringRanges(`@timestamp:[2024-01-01 TO 2024-01-02] AND level:error`, "*")
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected 1 range, got %d", len(ranges))
	}
	r := ranges[0]
	if r.field != "@timestamp" || r.lower != "2024-01-01" || r.upper != "2024-01-02" {
		t.Errorf("unexpected range: %+v", r)
	}
}

func TestParseQueryStringRanges_Comparators(t *testing.T) {
	ranges, err := parseQueryStringRanges(`ts:>now-1h`, "*")
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected 1 range, got %d", len(ranges))
	}
	if ranges[0].lower != "now-1h" || ranges[0].upper != boundNow {
		t.Errorf("'>' should bound the range at now: %+v", ranges[0])
	}

	ranges, err = parseQueryStringRanges(`ts:<=2024-06-01`, "*")
	if err != nil {
		t.Fatal(err)
	}
	if ranges[0].lower != boundEpoch || ranges[0].upper != "2024-06-01" {
		t.Errorf("'<=' should bound the range at the epoch: %+v", ranges[0])
	}
}

func TestParseQueryStringRanges_BareComparatorUsesDefaultField(t *testing.T) {
	ranges, err := parseQueryStringRanges(`>now-15m`, "@timestamp")
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected 1 range, got %d", len(ranges))
	}
	if ranges[0].field != "@timestamp" {
		t.Errorf("bare comparator should target the default field: %+v", ranges[0])
	}
}

func TestParseQueryStringRanges_OpenBound(t *testing.T) {
	ranges, err := parseQueryStringRanges(`ts:[* TO now]`, "*")
	if err != nil {
		t.Fatal(err)
	}
	if ranges[0].lower != "" {
		t.Errorf("'*' bound should come back empty: %+v", ranges[0])
	}
	if ranges[0].upper != "now" {
		t.Errorf("unexpected upper bound: %+v", ranges[0])
	}
}

func TestParseQueryStringRanges_GroupsAndTerms(t *testing.T) {
	q := `(level:error OR level:warn) AND message:"time out [45s TO 60s]" AND +ts:{now-1d TO now}`
	ranges, err := parseQueryStringRanges(q, "*")
	if err != nil {
		t.Fatal(err)
	}
	// The bracketed text inside the phrase must not count.
	if len(ranges) != 1 {
		t.Fatalf("expected 1 range, got %d: %+v", len(ranges), ranges)
	}
	if ranges[0].field != "ts" || ranges[0].lower != "now-1d" || ranges[0].upper != "now" {
		t.Errorf("unexpected range: %+v", ranges[0])
	}
}

func TestParseQueryStringRanges_Multiple(t *testing.T) {
	ranges, err := parseQueryStringRanges(`a:[1 TO 2] b:[3 TO 4]`, "*")
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 2 || ranges[0].field != "a" || ranges[1].field != "b" {
		t.Errorf("unexpected ranges: %+v", ranges)
	}
}

func TestParseQueryStringRanges_Errors(t *testing.T) {
	for _, q := range []string{
		`ts:[2024-01-01 2024-01-02]`, // missing TO
		`ts:[2024-01-01 TO`,          // unclosed
		`message:"unterminated`,      // unterminated phrase
		`: lonely`,                   // dangling colon
		`ts:> `,                      // comparator with no term
		`level:error AND >=`,         // bare comparator with no term
	} {
		if _, err := parseQueryStringRanges(q, "*"); err == nil {
			t.Errorf("expected error for %q", q)
		}
	}
}
