package module

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	perr "miping/internal/platform/errors"
	"miping/internal/platform/validate"
	"miping/internal/services/sampler/domain"

	"gopkg.in/yaml.v3"
)

// Settings is the regions file: run-wide sampling knobs plus the regions to sample
//
//	sampling:
//	  stream_duration: 10m
//	  exclude_retweets: true
//	  sampling_follower: 20
//	  sampling_location_users: 50
//	  total_sample_size: 300
//	  verify_location: true
//	  extra_attributes: [source, like_count]
//	regions:
//	  - name: Ireland
//	    country: Ireland
//	    country_code: IE
//	    lang: en
//	    bounding_box: {west: -10.7, south: 51.4, east: -5.4, north: 55.4}
//	    lang_threshold: 0.7
//	    other_lang_threshold: 0.2
//	    eligibility: {min_followers: 10, max_followers: 5000, min_statuses: 100}
type Settings struct {
	Sampling domain.Sampling `yaml:"sampling"`
	Regions  []domain.Region `yaml:"regions" validate:"required,min=1,dive"`

	extras []domain.ExtraAttr
}

// LoadSettings reads and validates the regions file at path
func LoadSettings(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, perr.WithField(perr.Configf("regions file %s does not exist", path), path)
	}
	if err != nil {
		return Settings{}, perr.Wrapf(err, perr.ErrorCodeConfig, "read regions file %s", path)
	}
	s, err := ParseSettings(raw)
	if err != nil {
		return Settings{}, perr.WithOp(err, "load "+path)
	}
	return s, nil
}

// ParseSettings decodes raw yaml, rejecting unknown keys, then validates it
func ParseSettings(raw []byte) (Settings, error) {
	var s Settings
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, perr.Wrap(err, perr.ErrorCodeConfig, "parse regions file")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks field rules, then the rules that span fields. Every failure is a config error
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		e, _ := perr.As(err)
		return perr.WithField(perr.Wrap(err, perr.ErrorCodeConfig, "invalid regions file"), e.Field())
	}

	sp := s.Sampling
	if sp.LocationUsers > sp.TotalSampleSize {
		return perr.WithField(
			perr.Configf("sampling_location_users %d exceeds total_sample_size %d", sp.LocationUsers, sp.TotalSampleSize),
			"sampling.sampling_location_users")
	}

	seen := map[string]bool{}
	for i := range s.Regions {
		r := &s.Regions[i]
		r.CountryCode = strings.ToUpper(r.CountryCode)
		key := r.Slug()
		if seen[key] {
			return perr.WithField(perr.Configf("region %q is listed twice", r.Name), "regions.name")
		}
		seen[key] = true

		e := r.Eligibility
		if e.MaxFollowers == 0 || e.MinFollowers > e.MaxFollowers {
			return perr.WithField(
				perr.Configf("region %s: min_followers %d must not exceed max_followers %d (and max must be set)",
					r.Name, e.MinFollowers, e.MaxFollowers),
				"regions.eligibility")
		}
		if r.Box != (domain.BoundingBox{}) && !r.Box.Valid() {
			return perr.WithField(perr.Configf("region %s: bounding box %s is out of range or inverted", r.Name, r.Box),
				"regions.bounding_box")
		}
		if r.CountryCode == "" && !r.Box.Valid() {
			return perr.WithField(perr.Configf("region %s needs a country_code or a bounding_box", r.Name),
				"regions.country_code")
		}
	}

	extras, err := domain.ResolveExtras(sp.ExtraAttributes)
	if err != nil {
		return err
	}
	s.extras = extras
	return nil
}

// Extras are the resolved extra post attributes, in configured order
func (s Settings) Extras() []domain.ExtraAttr { return s.extras }

// Select returns the regions named in names, matched by name or slug
// case-insensitively, in file order. No names selects every region
func (s Settings) Select(names []string) ([]domain.Region, error) {
	if len(names) == 0 {
		return slices.Clone(s.Regions), nil
	}
	want := map[string]bool{}
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = false
	}
	var out []domain.Region
	for _, r := range s.Regions {
		matched := false
		for _, k := range []string{strings.ToLower(strings.TrimSpace(r.Name)), r.Slug()} {
			if _, ok := want[k]; ok {
				want[k] = true
				matched = true
			}
		}
		if matched {
			out = append(out, r)
		}
	}
	for n, found := range want {
		if !found {
			return nil, perr.WithField(perr.Configf("unknown region %q", n), "region")
		}
	}
	return out, nil
}
