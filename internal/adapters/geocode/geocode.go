// Package geocode resolves free-text profile locations through the Google Places API
package geocode

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"miping/internal/platform/config"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/platform/metrics"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"
)

const (
	breakerName     = "geocode"
	defaultLanguage = "en"
	defaultTimeout  = 10 * time.Second
	defaultRate     = 10.0
	defaultTrips    = 5
	defaultCooldown = time.Minute
)

// Options configures the Geocoder
type Options struct {
	APIKey string
	// Language unifies the formatted addresses so country names match
	Language string
	Timeout  time.Duration
	// RatePerSec caps outgoing requests; zero or less means unlimited
	RatePerSec float64
	// Trips is the consecutive failure count that opens the breaker
	Trips uint32
	// Cooldown is how long the breaker stays open
	Cooldown time.Duration
}

// FromConfig reads GOOGLE_* style keys from c. The API key is required
func FromConfig(c config.Conf) (Options, error) {
	key, err := c.Secret("MAPS_API_KEY")
	if err != nil {
		return Options{}, err
	}
	return Options{
		APIKey:     key,
		Language:   c.MayString("MAPS_LANGUAGE", defaultLanguage),
		Timeout:    c.MayDuration("MAPS_TIMEOUT", defaultTimeout),
		RatePerSec: c.MayFloat64("MAPS_RATE", defaultRate),
		Trips:      uint32(c.MayInt("MAPS_BREAKER_TRIPS", defaultTrips)),
		Cooldown:   c.MayDuration("MAPS_BREAKER_COOLDOWN", defaultCooldown),
	}, nil
}

type placesAPI interface {
	FindPlaceFromText(ctx context.Context, r *maps.FindPlaceFromTextRequest) (maps.FindPlaceFromTextResponse, error)
}

// Geocoder implements domain.Geocoder
type Geocoder struct {
	api  placesAPI
	lim  *rate.Limiter
	cb   *gobreaker.CircuitBreaker
	lang string
	met  *metrics.Registry
	log  logger.Logger
}

// New builds a Geocoder backed by the maps client
func New(o Options, met *metrics.Registry) (*Geocoder, error) {
	if o.APIKey == "" {
		return nil, perr.Configf("geocoder requires a maps api key")
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	mc, err := maps.NewClient(maps.WithAPIKey(o.APIKey), maps.WithHTTPClient(&http.Client{Timeout: o.Timeout}))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfig, "maps client")
	}
	return newGeocoder(mc, o, met), nil
}

func newGeocoder(api placesAPI, o Options, met *metrics.Registry) *Geocoder {
	if o.Language == "" {
		o.Language = defaultLanguage
	}
	if o.Trips == 0 {
		o.Trips = defaultTrips
	}
	if o.Cooldown <= 0 {
		o.Cooldown = defaultCooldown
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if o.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(o.RatePerSec), 1)
	}

	g := &Geocoder{api: api, lim: lim, lang: o.Language, met: met, log: *logger.Named("geocode")}
	st := gobreaker.Settings{
		Name:    breakerName,
		Timeout: o.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= o.Trips
		},
		// a canceled lookup says nothing about the remote side
		IsSuccessful: func(err error) bool { return err == nil || perr.IsCanceled(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			met.SetBreaker(name, int(to))
			g.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
		},
	}
	g.cb = gobreaker.NewCircuitBreaker(st)
	met.SetBreaker(breakerName, int(gobreaker.StateClosed))
	return g
}

// ResolveAddress returns candidate formatted addresses for text, best match first.
// No match is an empty slice, not an error
func (g *Geocoder) ResolveAddress(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	start := time.Now()
	out, err := g.cb.Execute(func() (any, error) {
		if err := g.lim.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, perr.Wrap(err, perr.ErrorCodeTooManyRequests, "geocode limiter")
		}
		resp, err := g.api.FindPlaceFromText(ctx, &maps.FindPlaceFromTextRequest{
			Input:     text,
			InputType: maps.FindPlaceFromTextInputTypeTextQuery,
			Fields:    []maps.PlaceSearchFieldMask{maps.PlaceSearchFieldMaskFormattedAddress},
			Language:  g.lang,
		})
		if err != nil {
			if isZeroResults(err) {
				return []string(nil), nil
			}
			return nil, classify(ctx, err)
		}
		addrs := make([]string, 0, len(resp.Candidates))
		for _, c := range resp.Candidates {
			if c.FormattedAddress != "" {
				addrs = append(addrs, c.FormattedAddress)
			}
		}
		return addrs, nil
	})
	took := time.Since(start)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		g.met.ObserveAPI("geocode", "breaker_open", took)
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "geocoder breaker open")
	case err != nil:
		g.met.ObserveAPI("geocode", perr.CodeOf(err).String(), took)
		g.log.Debug().Err(err).Str("input", text).Msg("geocode failed")
		return nil, perr.WithOp(err, "geocode.resolve")
	}
	g.met.ObserveAPI("geocode", "ok", took)
	addrs, _ := out.([]string)
	return addrs, nil
}

func isZeroResults(err error) bool { return strings.Contains(err.Error(), "ZERO_RESULTS") }

// classify maps maps API status errors onto perr codes
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "OVER_QUERY_LIMIT"), strings.Contains(msg, "OVER_DAILY_LIMIT"):
		return perr.Wrap(err, perr.ErrorCodeTooManyRequests, "geocode quota")
	case strings.Contains(msg, "REQUEST_DENIED"):
		return perr.Wrap(err, perr.ErrorCodeUnauthorized, "geocode denied")
	case strings.Contains(msg, "INVALID_REQUEST"):
		return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "geocode invalid request")
	}
	return perr.Wrap(err, perr.ErrorCodeUnavailable, "geocode")
}
