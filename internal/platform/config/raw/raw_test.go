package raw

import (
	"maps"
	"testing"
)

func TestGetAndPrefix(t *testing.T) {
	t.Setenv("LOG_SERVICE", " sampler ")
	t.Setenv("SAMPLER_LOG_SERVICE", "nested")

	if got := New().Prefix("LOG_").Get("SERVICE", "x"); got != "sampler" {
		t.Fatalf("Get = %q", got)
	}
	if got := New().Prefix("SAMPLER_").Prefix("LOG_").Get("SERVICE", "x"); got != "nested" {
		t.Fatalf("nested Get = %q", got)
	}
	if got := New().Prefix("LOG_").Get("MISSING", "def"); got != "def" {
		t.Fatalf("missing Get = %q", got)
	}
}

func TestEnum(t *testing.T) {
	c := New().Prefix("RAWT_")
	t.Setenv("RAWT_FORMAT", "JSON")
	t.Setenv("RAWT_LEVEL", "loud")

	if got := c.Enum("FORMAT", "console", "console", "json"); got != "json" {
		t.Fatalf("format %q", got)
	}
	if got := c.Enum("LEVEL", "info", "debug", "info"); got != "info" {
		t.Fatalf("unknown level must fall back, got %q", got)
	}
	if got := c.Enum("UNSET", "info", "debug"); got != "info" {
		t.Fatalf("unset %q", got)
	}
}

func TestBoolAndCount(t *testing.T) {
	c := New().Prefix("RAWT_")
	for k, v := range map[string]string{
		"ON": "on", "OFF": "Off", "ONE": "1", "JUNK": "maybe",
		"N": " 12 ", "NEG": "-3", "BAD": "4x",
	} {
		t.Setenv("RAWT_"+k, v)
	}

	bools := []struct {
		key  string
		def  bool
		want bool
	}{
		{"ON", false, true},
		{"OFF", true, false},
		{"ONE", false, true},
		{"JUNK", true, true},
		{"UNSET", false, false},
	}
	for _, tc := range bools {
		if got := c.Bool(tc.key, tc.def); got != tc.want {
			t.Fatalf("Bool(%s) = %v", tc.key, got)
		}
	}

	counts := []struct {
		key       string
		def, want int
	}{
		{"N", 0, 12},
		{"NEG", 5, 5},
		{"BAD", 5, 5},
		{"UNSET", 7, 7},
	}
	for _, tc := range counts {
		if got := c.Count(tc.key, tc.def); got != tc.want {
			t.Fatalf("Count(%s) = %d", tc.key, got)
		}
	}
}

func TestPairs(t *testing.T) {
	c := New().Prefix("RAWT_")
	t.Setenv("RAWT_FIELDS", "region=ie, host = box1 ,=skip,flag")
	t.Setenv("RAWT_EMPTY", " , ")

	want := map[string]string{"region": "ie", "host": "box1", "flag": ""}
	if got := c.Pairs("FIELDS"); !maps.Equal(got, want) {
		t.Fatalf("Pairs = %v", got)
	}
	if got := c.Pairs("EMPTY"); got != nil {
		t.Fatalf("empty Pairs = %v", got)
	}
	if got := c.Pairs("UNSET"); got != nil {
		t.Fatalf("unset Pairs = %v", got)
	}
}
