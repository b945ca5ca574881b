package config

import (
	stderrs "errors"
	"io/fs"

	perr "miping/internal/platform/errors"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process env.
// Variables already set win over file values. Missing files are skipped so a
// bare checkout runs on plain env; a malformed file is a config error
func LoadDotEnv(paths ...string) (loaded []string, err error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if stderrs.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, perr.WithField(perr.Wrapf(err, perr.ErrorCodeConfig, "parse env file %s", p), p)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
