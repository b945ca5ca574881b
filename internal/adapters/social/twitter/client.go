// Package twitter implements domain.SocialClient on the Twitter API v2
package twitter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"miping/internal/platform/clock"
	"miping/internal/platform/config"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/platform/metrics"

	"github.com/dghubble/oauth1"
	twitter "github.com/g8rswimmer/go-twitter/v2"
	"golang.org/x/time/rate"
)

const (
	hostDefault      = "https://api.twitter.com"
	defaultTimeout   = 30 * time.Second
	defaultMaxRetry  = 5
	defaultRetryBase = 500 * time.Millisecond
	maxBackoff       = 30 * time.Second

	lookupChunk  = 100
	timelinePage = 100
	timelineMin  = 5
)

// FollowersPage is the most follower ids one followers request returns
const FollowersPage = 1000

// endpoint labels, used for limiter selection and metrics
const (
	epUsers     = "users_lookup"
	epFollowers = "followers"
	epTimeline  = "timeline"
	epTweets    = "tweets_lookup"
	epRules     = "stream_rules"
	epStream    = "stream"
)

// Limit is a token bucket for one endpoint
type Limit struct {
	Every time.Duration
	Burst int
}

// published app limits per 15 minute window, spread evenly
var defaultLimits = map[string]Limit{
	epUsers:     {Every: 3 * time.Second, Burst: 10},
	epFollowers: {Every: time.Minute, Burst: 15},
	epTimeline:  {Every: 600 * time.Millisecond, Burst: 10},
	epTweets:    {Every: 3 * time.Second, Burst: 10},
	epRules:     {Every: 2 * time.Second, Burst: 5},
	epStream:    {Every: 12 * time.Second, Burst: 1},
}

// Options configures the Client
type Options struct {
	Host    string
	Timeout time.Duration

	// BearerToken is the app-only credential; the filtered stream requires it
	BearerToken string

	// OAuth 1.0a user context, used for REST calls when all four are set
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string

	// Retry config for transient and rate limited responses
	MaxRetries int
	RetryBase  time.Duration

	// Limits overrides defaultLimits per endpoint label
	Limits map[string]Limit
}

// FromConfig reads TWITTER_* style keys from c
func FromConfig(c config.Conf) Options {
	return Options{
		Host:           c.MayString("HOST", hostDefault),
		Timeout:        c.MayDuration("TIMEOUT", defaultTimeout),
		BearerToken:    c.MayString("BEARER_TOKEN", ""),
		ConsumerKey:    c.MayString("CONSUMER_KEY", ""),
		ConsumerSecret: c.MayString("CONSUMER_SECRET", ""),
		AccessToken:    c.MayString("ACCESS_TOKEN", ""),
		AccessSecret:   c.MayString("ACCESS_SECRET", ""),
		MaxRetries:     c.MayInt("MAX_RETRIES", defaultMaxRetry),
		RetryBase:      c.MayDuration("RETRY_BASE", defaultRetryBase),
	}
}

func (o Options) userContext() bool {
	return o.ConsumerKey != "" && o.ConsumerSecret != "" && o.AccessToken != "" && o.AccessSecret != ""
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = hostDefault
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetry
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	return o
}

// Client is a rate limited, retrying Twitter API client
type Client struct {
	rest   restAPI
	stream streamAPI
	opts   Options
	limits map[string]*rate.Limiter
	clk    clock.Clock
	met    *metrics.Registry
	log    logger.Logger
}

// bearer authorizes app-only requests
type bearer string

// Add implements twitter.Authorizer
func (b bearer) Add(req *http.Request) { req.Header.Add("Authorization", "Bearer "+string(b)) }

// signed leaves authorization to the oauth1 transport
type signed struct{}

// Add implements twitter.Authorizer
func (signed) Add(*http.Request) {}

// New builds a Client. REST calls sign with OAuth 1.0a when user credentials
// are complete, else they use the bearer token
func New(o Options, clk clock.Clock, met *metrics.Registry) (*Client, error) {
	o = o.withDefaults()
	if o.BearerToken == "" && !o.userContext() {
		return nil, perr.Configf("twitter credentials missing: set a bearer token or all four oauth1 keys")
	}

	var rest *twitter.Client
	if o.userContext() {
		hc := oauth1.NewConfig(o.ConsumerKey, o.ConsumerSecret).
			Client(oauth1.NoContext, oauth1.NewToken(o.AccessToken, o.AccessSecret))
		hc.Timeout = o.Timeout
		rest = &twitter.Client{Authorizer: signed{}, Client: hc, Host: o.Host}
	} else {
		rest = &twitter.Client{Authorizer: bearer(o.BearerToken), Client: &http.Client{Timeout: o.Timeout}, Host: o.Host}
	}

	var st streamAPI
	if o.BearerToken != "" {
		// no client timeout, the stream stays open for the whole collection window
		st = liveStream{c: &twitter.Client{Authorizer: bearer(o.BearerToken), Client: &http.Client{}, Host: o.Host}}
	}
	return newClient(rest, st, o, clk, met), nil
}

func newClient(rest restAPI, st streamAPI, o Options, clk clock.Clock, met *metrics.Registry) *Client {
	o = o.withDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	limits := make(map[string]*rate.Limiter, len(defaultLimits))
	for ep, l := range defaultLimits {
		if ov, ok := o.Limits[ep]; ok {
			l = ov
		}
		lim := rate.Inf
		if l.Every > 0 {
			lim = rate.Every(l.Every)
		}
		limits[ep] = rate.NewLimiter(lim, max(1, l.Burst))
	}
	return &Client{
		rest:   rest,
		stream: st,
		opts:   o,
		limits: limits,
		clk:    clk,
		met:    met,
		log:    *logger.Named("twitter"),
	}
}

// call runs fn under the endpoint limiter and retries transient failures
// with exponential backoff, or until the advertised rate limit reset
func (c *Client) call(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	start := c.clk.Now()
	attempts := 0
	for {
		if lim := c.limits[endpoint]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return perr.Wrapf(err, perr.ErrorCodeTooManyRequests, "twitter %s limiter", endpoint)
			}
		}

		err := fn(ctx)
		if err == nil {
			c.met.ObserveAPI(endpoint, "ok", c.clk.Now().Sub(start))
			return nil
		}
		if perr.IsCanceled(err) || ctx.Err() != nil {
			c.met.ObserveAPI(endpoint, "canceled", c.clk.Now().Sub(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		mapped, wait := c.classify(err)
		if !perr.IsTransient(mapped) || attempts >= c.opts.MaxRetries {
			c.met.ObserveAPI(endpoint, perr.CodeOf(mapped).String(), c.clk.Now().Sub(start))
			return perr.WithOp(mapped, "twitter."+endpoint)
		}
		if wait <= 0 {
			wait = c.backoff(attempts)
		}
		c.log.Warn().
			Str("endpoint", endpoint).
			Str("code", perr.CodeOf(mapped).String()).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("twitter call failed, retrying")
		if err := c.clk.Sleep(ctx, wait); err != nil {
			return err
		}
		attempts++
	}
}

// classify maps a go-twitter error onto a perr code and an optional wait hint
func (c *Client) classify(err error) (error, time.Duration) {
	var (
		er     *twitter.ErrorResponse
		he     *twitter.HTTPError
		status int
		rl     *twitter.RateLimit
	)
	switch {
	case errors.As(err, &er):
		status, rl = er.StatusCode, er.RateLimit
	case errors.As(err, &he):
		status, rl = he.StatusCode, he.RateLimit
	case isOwn(err):
		return err, 0
	default:
		var ne net.Error
		var ue *url.Error
		if errors.As(err, &ne) || errors.As(err, &ue) {
			return perr.Wrap(err, perr.ErrorCodeUnavailable, "twitter transport"), 0
		}
		return perr.Wrap(err, perr.ErrorCodeUnknown, "twitter"), 0
	}

	switch {
	case status == http.StatusTooManyRequests:
		return perr.Wrap(err, perr.ErrorCodeTooManyRequests, "twitter rate limited"), computeWait(rl, c.clk.Now())
	case status == http.StatusUnauthorized:
		return perr.Wrap(err, perr.ErrorCodeConfig, "twitter rejected the credentials"), 0
	case status == http.StatusForbidden:
		return perr.Wrap(err, perr.ErrorCodeForbidden, "twitter forbidden"), 0
	case status == http.StatusNotFound:
		return perr.Wrap(err, perr.ErrorCodeNotFound, "twitter not found"), 0
	case status == http.StatusBadRequest:
		return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "twitter bad request"), 0
	case status >= 500:
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "twitter server error %d", status), 0
	}
	return perr.Wrapf(err, perr.ErrorCodeUnknown, "twitter unexpected status %d", status), 0
}

// isOwn reports errors this package already coded
func isOwn(err error) bool {
	_, ok := perr.As(err)
	return ok
}

// computeWait returns the time until the window resets when it is exhausted
func computeWait(rl *twitter.RateLimit, now time.Time) time.Duration {
	if rl == nil || rl.Remaining > 0 || rl.Reset <= 0 {
		return 0
	}
	if reset := rl.Reset.Time(); reset.After(now) {
		return reset.Sub(now)
	}
	return 0
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.RetryBase << uint(attempt)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

// chunks yields consecutive slices of at most n ids
func chunks(ids []string, n int) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for len(ids) > 0 {
			k := min(n, len(ids))
			if !yield(ids[:k]) {
				return
			}
			ids = ids[k:]
		}
	}
}
