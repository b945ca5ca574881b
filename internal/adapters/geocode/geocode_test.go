package geocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"miping/internal/platform/config"
	perr "miping/internal/platform/errors"

	"googlemaps.github.io/maps"
)

type fakePlaces struct {
	addrs []string
	err   error
	calls int
	last  *maps.FindPlaceFromTextRequest
}

func (f *fakePlaces) FindPlaceFromText(_ context.Context, r *maps.FindPlaceFromTextRequest) (maps.FindPlaceFromTextResponse, error) {
	f.calls++
	f.last = r
	if f.err != nil {
		return maps.FindPlaceFromTextResponse{}, f.err
	}
	var resp maps.FindPlaceFromTextResponse
	for _, a := range f.addrs {
		resp.Candidates = append(resp.Candidates, maps.PlacesSearchResult{FormattedAddress: a})
	}
	return resp, nil
}

func TestResolveAddress(t *testing.T) {
	t.Parallel()

	api := &fakePlaces{addrs: []string{"Cork, Ireland", "Cork, ON, Canada"}}
	g := newGeocoder(api, Options{}, nil)

	got, err := g.ResolveAddress(context.Background(), "Cork")
	if err != nil {
		t.Fatalf("ResolveAddress: %v", err)
	}
	if len(got) != 2 || got[0] != "Cork, Ireland" {
		t.Fatalf("addresses %v", got)
	}
	if api.last.Input != "Cork" || api.last.Language != "en" || api.last.InputType != maps.FindPlaceFromTextInputTypeTextQuery {
		t.Fatalf("request %+v", api.last)
	}

	if got, err := g.ResolveAddress(context.Background(), "  "); err != nil || got != nil || api.calls != 1 {
		t.Fatalf("blank input must not call out: %v %v calls=%d", got, err, api.calls)
	}
}

func TestResolveAddress_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code perr.ErrorCode
		none bool
	}{
		{name: "zero results", err: errors.New("maps: ZERO_RESULTS - "), none: true},
		{name: "quota", err: errors.New("maps: OVER_QUERY_LIMIT - slow down"), code: perr.ErrorCodeTooManyRequests},
		{name: "denied", err: errors.New("maps: REQUEST_DENIED - bad key"), code: perr.ErrorCodeUnauthorized},
		{name: "invalid", err: errors.New("maps: INVALID_REQUEST - "), code: perr.ErrorCodeInvalidArgument},
		{name: "transport", err: errors.New("dial tcp: connection refused"), code: perr.ErrorCodeUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := newGeocoder(&fakePlaces{err: tc.err}, Options{}, nil)
			got, err := g.ResolveAddress(context.Background(), "somewhere")
			if tc.none {
				if err != nil || len(got) != 0 {
					t.Fatalf("zero results: %v %v", got, err)
				}
				return
			}
			if !perr.IsCode(err, tc.code) {
				t.Fatalf("want %s, got %v", tc.code, err)
			}
		})
	}
}

func TestResolveAddress_BreakerOpens(t *testing.T) {
	t.Parallel()

	api := &fakePlaces{err: errors.New("dial tcp: connection refused")}
	g := newGeocoder(api, Options{Trips: 3, Cooldown: time.Hour}, nil)

	for range 3 {
		if _, err := g.ResolveAddress(context.Background(), "x"); !perr.IsCode(err, perr.ErrorCodeUnavailable) {
			t.Fatalf("want unavailable, got %v", err)
		}
	}
	_, err := g.ResolveAddress(context.Background(), "x")
	if !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("open breaker: want unavailable, got %v", err)
	}
	if api.calls != 3 {
		t.Fatalf("calls %d, open breaker must short circuit", api.calls)
	}
}

func TestResolveAddress_CancelDoesNotTrip(t *testing.T) {
	t.Parallel()

	api := &fakePlaces{addrs: []string{"Galway, Ireland"}}
	g := newGeocoder(api, Options{Trips: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.ResolveAddress(ctx, "Galway"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled, got %v", err)
	}
	if _, err := g.ResolveAddress(context.Background(), "Galway"); err != nil {
		t.Fatalf("breaker tripped on cancellation: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	if _, err := FromConfig(config.New().Prefix("GEO_TEST_")); !perr.IsCode(err, perr.ErrorCodeConfig) {
		t.Fatalf("missing key: want config error, got %v", err)
	}
	t.Setenv("GEO_TEST_MAPS_API_KEY", "k")
	t.Setenv("GEO_TEST_MAPS_RATE", "2.5")
	o, err := FromConfig(config.New().Prefix("GEO_TEST_"))
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if o.APIKey != "k" || o.RatePerSec != 2.5 || o.Language != "en" || o.Trips != defaultTrips {
		t.Fatalf("options %+v", o)
	}
	if _, err := New(o, nil); err != nil {
		t.Fatalf("New: %v", err)
	}
}
