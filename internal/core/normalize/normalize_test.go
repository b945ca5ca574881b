package normalize

import (
	"testing"
)

func TestLocation_Table(t *testing.T) {
	tests := []struct {
		name string
		in   string
		out  string
	}{
		{name: "empty", in: "", out: ""},
		{name: "identity", in: "Berlin, Germany", out: "Berlin, Germany"},
		{name: "newlines become spaces", in: "Hamburg\nDeutschland\r", out: "Hamburg Deutschland"},
		{name: "dots become spaces", in: "St.Gallen", out: "St Gallen"},
		{name: "degree sign dropped", in: "52.52°N 13.40°E", out: "52 52N 13 40E"},
		{name: "zero widths removed", in: "Mün\u200bchen", out: "München"},
		{name: "nfkc compatibility forms", in: "Ｂｅｒｌｉｎ", out: "Berlin"},
		{name: "utf8 repair", in: string([]byte{'K', 0xff, 'o', 'e', 'l', 'n'}), out: "Koeln"},
		{name: "only punctuation collapses to empty", in: " . \n . ", out: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Location(tc.in)
			if got != tc.out {
				t.Fatalf("Location(%q) = %q, want %q", tc.in, got, tc.out)
			}
			if again := Location(got); again != got {
				t.Fatalf("Location not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestPostText(t *testing.T) {
	in := "first line\r\nsecond\tline\n\nthird\u0000"
	want := "first line second line third"
	if got := PostText(in); got != want {
		t.Fatalf("PostText(%q) = %q, want %q", in, got, want)
	}
	// dots survive, unlike locations
	if got := PostText("v1.2 ships."); got != "v1.2 ships." {
		t.Fatalf("PostText changed punctuation: %q", got)
	}
}

func TestSanitize(t *testing.T) {
	in := "a\x00b\x7fc\u0085d\ne"
	want := "abcd\ne"
	if got := Sanitize(in); got != want {
		t.Fatalf("Sanitize(%q) = %q, want %q", in, got, want)
	}
	if Sanitize("") != "" {
		t.Fatalf("Sanitize empty")
	}
}

func TestCollapseAndWordCount(t *testing.T) {
	in := " \t a \n b   c \r\n "
	if got := Collapse(in); got != "a b c" {
		t.Fatalf("Collapse(%q) = %q", in, got)
	}
	if got := WordCount(in); got != 3 {
		t.Fatalf("WordCount = %d, want 3", got)
	}
	if WordCount("   ") != 0 {
		t.Fatalf("WordCount blank should be 0")
	}
}
