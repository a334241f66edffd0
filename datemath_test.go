package gateway

import (
	"testing"
	"time"
)

func mustParser(t *testing.T, format string, zone *time.Location) *dateParser {
	t.Helper()
	p, err := newDateParser(format, zone)
	if err != nil {
		t.Fatalf("newDateParser(%q): %v", format, err)
	}
	return p
}

func TestDateParser_ISO(t *testing.T) {
	p := mustParser(t, DefaultDateFormat, time.UTC)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-01-01T10:30", time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-01-01T10:30:15", time.Date(2024, 1, 1, 10, 30, 15, 0, time.UTC)},
		{"2024-01-01T10:30:15.250", time.Date(2024, 1, 1, 10, 30, 15, 250000000, time.UTC)},
		{"2024-01-01T10:30:15Z", time.Date(2024, 1, 1, 10, 30, 15, 0, time.UTC)},
		{"2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"1970-01-01T00:00", time.Unix(0, 0).UTC()},
	}
	for _, tc := range cases {
		got, err := p.parse(tc.in, now)
		if err != nil {
			t.Errorf("parse(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDateParser_EpochMillis(t *testing.T) {
	p := mustParser(t, DefaultDateFormat, time.UTC)
	got, err := p.parse("1717243200000", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.UnixMilli() != 1717243200000 {
		t.Errorf("unexpected epoch parse: %v", got)
	}
}

func TestDateParser_NowMath(t *testing.T) {
	p := mustParser(t, DefaultDateFormat, time.UTC)
	now := time.Date(2024, 6, 10, 15, 45, 30, 0, time.UTC)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"now", now},
		{"now-15m", now.Add(-15 * time.Minute)},
		{"now+1h", now.Add(time.Hour)},
		{"now-1d", now.AddDate(0, 0, -1)},
		{"now-1M", now.AddDate(0, -1, 0)},
		{"now/d", time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)},
		{"now-1d/d", time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)},
		{"now/M", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := p.parse(tc.in, now)
		if err != nil {
			t.Errorf("parse(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("parse(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDateParser_AnchoredMath(t *testing.T) {
	p := mustParser(t, DefaultDateFormat, time.UTC)
	got, err := p.parse("2024-01-01||+1M/d", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDateParser_Errors(t *testing.T) {
	if _, err := newDateParser("basic_date||epoch_millis", time.UTC); err == nil {
		t.Error("unknown format name should fail construction")
	}
	p := mustParser(t, DefaultDateFormat, time.UTC)
	for _, in := range []string{
		"garbage", "now-xm", "now%5m", "2024-13-40",
		"now/",  // dangling rounding, must error rather than slice past the end
		"now+",  // dangling offset
		"now-1", // offset with no unit
	} {
		if _, err := p.parse(in, time.Now()); err == nil {
			t.Errorf("parse(%q) should fail", in)
		}
	}
}

func TestParseZone(t *testing.T) {
	loc, err := parseZone("+05:30")
	if err != nil {
		t.Fatal(err)
	}
	_, offset := time.Now().In(loc).Zone()
	if offset != 5*3600+30*60 {
		t.Errorf("unexpected offset: %d", offset)
	}

	loc, err = parseZone("-08")
	if err != nil {
		t.Fatal(err)
	}
	_, offset = time.Now().In(loc).Zone()
	if offset != -8*3600 {
		t.Errorf("unexpected offset: %d", offset)
	}

	if _, err := parseZone("America/Los_Angeles"); err != nil {
		t.Errorf("IANA zone should resolve: %v", err)
	}
	if _, err := parseZone("Not/AZone"); err == nil {
		t.Error("bogus zone should fail")
	}
}
