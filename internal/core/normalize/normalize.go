// Package normalize provides the deterministic text cleanup applied to profile
// locations, post text and condensed profiles
// Pipeline order
// 1 UTF-8 repair drop invalid bytes
// 2 Unicode NFKC normalization
// 3 Remove control and format runes (keeps \n \r \t for step 4)
// 4 Field-specific rewrites
// 5 Collapse whitespace to single spaces and trim
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// pool of fresh transformer chains
var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			runes.Remove(runes.Predicate(isJunk)), // NUL, DEL, C1 controls
			runes.Remove(runes.In(unicode.Cf)),    // ZWJ ZWNJ FEFF etc
		)
	},
}

func isJunk(r rune) bool {
	if r == '\n' || r == '\r' || r == '\t' {
		return false
	}
	return unicode.IsControl(r)
}

func clean(s string) string {
	s = strings.ToValidUTF8(s, "")
	tr := chainPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		return s
	}
	return out
}

// locationRewrites mirrors how free-text profile locations were cleaned before geocoding
var locationRewrites = strings.NewReplacer(
	"\n", " ",
	"\r", " ",
	"°", "",
	".", " ",
)

// Location prepares a free-text profile location for geocoding
// "Berlin.\nDeutschland" becomes "Berlin Deutschland", degree signs are dropped
func Location(s string) string {
	if s == "" {
		return ""
	}
	return Collapse(locationRewrites.Replace(clean(s)))
}

// PostText flattens a post body to one line
func PostText(s string) string {
	if s == "" {
		return ""
	}
	s = clean(s)
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
	return Collapse(s)
}

// Sanitize removes runes that break storage (NUL, controls other than \n \r \t)
// and drops invalid UTF-8 while leaving the text otherwise untouched
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	return clean(s)
}

// Collapse converts every whitespace run to a single ASCII space and trims the edges
func Collapse(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// WordCount counts whitespace separated tokens
func WordCount(s string) int {
	return len(strings.FieldsFunc(s, unicode.IsSpace))
}
