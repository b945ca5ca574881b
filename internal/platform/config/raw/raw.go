// Package raw reads the handful of env vars the logger needs before it exists.
// It must not import the logger, so invalid values fall back silently
package raw

import (
	"os"
	"slices"
	"strconv"
	"strings"
)

// Conf reads env vars under a prefix such as "LOG_"
type Conf struct{ prefix string }

// New returns a Conf without prefix
func New() Conf { return Conf{} }

// Prefix nests p under the current prefix
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p} }

func (c Conf) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(c.prefix + key))
	return v, v != ""
}

// Get returns the trimmed value of key, or def when unset
func (c Conf) Get(key, def string) string {
	if v, ok := c.lookup(key); ok {
		return v
	}
	return def
}

// Enum returns the lowercased value of key when it is one of allowed, else def
func (c Conf) Enum(key, def string, allowed ...string) string {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	v = strings.ToLower(v)
	if !slices.Contains(allowed, v) {
		return def
	}
	return v
}

// Bool accepts 1/0, true/false, yes/no and on/off
func (c Conf) Bool(key string, def bool) bool {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// Count returns a non-negative integer, def for anything else
func (c Conf) Count(key string, def int) int {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// Pairs parses "k1=v1,k2=v2". Entries without a key are skipped
func (c Conf) Pairs(key string) map[string]string {
	v, ok := c.lookup(key)
	if !ok {
		return nil
	}
	out := map[string]string{}
	for part := range strings.SplitSeq(v, ",") {
		k, val, _ := strings.Cut(part, "=")
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(val)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
