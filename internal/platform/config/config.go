// Package config reads settings from the environment under per-module
// prefixes. Invalid optional values log a warning and keep the default
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
)

// Conf reads env vars under a prefix, e.g. New().Prefix("SAMPLER_")
type Conf struct{ prefix string }

// New returns a Conf without prefix
func New() Conf { return Conf{} }

// Prefix nests p under the current prefix
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p} }

func (c Conf) key(k string) string { return c.prefix + k }

func (c Conf) get(k string) string { return strings.TrimSpace(os.Getenv(c.key(k))) }

// parse returns def for an unset key and for a value parseFn rejects
func parse[T any](c Conf, key string, def T, kind string, parseFn func(string) (T, error)) T {
	s := c.get(key)
	if s == "" {
		return def
	}
	v, err := parseFn(s)
	if err != nil {
		logger.Get().Warn().
			Str("key", c.key(key)).
			Str("value", s).
			Interface("default", def).
			Msgf("invalid %s, using default", kind)
		return def
	}
	return v
}

// Secret returns a credential or a config error naming the missing key.
// Only the stages that call out need credentials, so a missing one is not
// fatal until used
func (c Conf) Secret(key string) (string, error) {
	v := c.get(key)
	if v == "" {
		return "", perr.WithField(perr.Configf("missing credential %s", c.key(key)), c.key(key))
	}
	return v, nil
}

// MayString returns the trimmed value or def
func (c Conf) MayString(key, def string) string {
	if v := c.get(key); v != "" {
		return v
	}
	return def
}

// MayInt parses a base 10 int
func (c Conf) MayInt(key string, def int) int {
	return parse(c, key, def, "int", strconv.Atoi)
}

// MayFloat64 parses a float such as 0.85
func (c Conf) MayFloat64(key string, def float64) float64 {
	return parse(c, key, def, "float", func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// MayBool accepts what strconv.ParseBool accepts
func (c Conf) MayBool(key string, def bool) bool {
	return parse(c, key, def, "bool", strconv.ParseBool)
}

// MayDuration parses a Go duration such as 15m
func (c Conf) MayDuration(key string, def time.Duration) time.Duration {
	return parse(c, key, def, "duration", time.ParseDuration)
}
