package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"miping/internal/platform/clock"
	perr "miping/internal/platform/errors"
	"miping/internal/services/sampler/domain"

	"github.com/go-chi/chi/v5"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// rec collects values written by test handlers
type rec struct {
	mu sync.Mutex
	v  []string
}

func (r *rec) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.v = append(r.v, s)
}

func (r *rec) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.v...)
}

func (r *rec) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.v = nil
}

func unlimited() map[string]Limit {
	out := map[string]Limit{}
	for ep := range defaultLimits {
		out[ep] = Limit{}
	}
	return out
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *clock.Fake) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	clk := clock.NewFake(t0)
	c, err := New(Options{Host: srv.URL, BearerToken: "tok", MaxRetries: 2, Limits: unlimited()}, clk, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, clk
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func userJSON(id string, followers, tweets int) map[string]any {
	return map[string]any{
		"id": id, "name": id, "username": "n" + id, "location": "Dublin,\nIreland",
		"public_metrics": map[string]any{"followers_count": followers, "tweet_count": tweets},
	}
}

func tweetJSON(id, author, lang string) map[string]any {
	return map[string]any{
		"id": id, "author_id": author, "lang": lang, "text": "hello " + id,
		"created_at": "2026-02-01T10:00:00.000Z", "source": "web",
		"public_metrics": map[string]any{"like_count": 3, "retweet_count": 1},
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}, nil, nil); !perr.IsCode(err, perr.ErrorCodeConfig) {
		t.Fatalf("want config error, got %v", err)
	}
	if _, err := New(Options{ConsumerKey: "k", ConsumerSecret: "s", AccessToken: "t"}, nil, nil); !perr.IsCode(err, perr.ErrorCodeConfig) {
		t.Fatalf("incomplete oauth1 keys: want config error, got %v", err)
	}
	c, err := New(Options{ConsumerKey: "k", ConsumerSecret: "s", AccessToken: "t", AccessSecret: "x"}, nil, nil)
	if err != nil {
		t.Fatalf("oauth1 only: %v", err)
	}
	if err := c.Stream(context.Background(), domain.StreamQuery{CountryCode: "ie"}, nil); !perr.IsCode(err, perr.ErrorCodeConfig) {
		t.Fatalf("stream without bearer token: want config error, got %v", err)
	}
}

func TestLookupProfiles_ChunksAndMaps(t *testing.T) {
	t.Parallel()

	var sizes rec
	r := chi.NewRouter()
	r.Get("/2/users", func(w http.ResponseWriter, req *http.Request) {
		if got := req.Header.Get("Authorization"); got != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"title": "Unauthorized"})
			return
		}
		ids := strings.Split(req.URL.Query().Get("ids"), ",")
		sizes.add(strconv.Itoa(len(ids)))
		var users []map[string]any
		for _, id := range ids {
			if strings.HasPrefix(id, "gone") {
				continue
			}
			users = append(users, userJSON(id, 100, 50))
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": users})
	})
	c, _ := newTestClient(t, r)

	ids := make([]string, 0, 205)
	for i := range 203 {
		ids = append(ids, fmt.Sprintf("u%d", i))
	}
	ids = append(ids, "gone1", "gone2")

	got, err := c.LookupProfiles(context.Background(), ids)
	if err != nil {
		t.Fatalf("LookupProfiles: %v", err)
	}
	if got := sizes.get(); len(got) != 3 || got[0] != "100" || got[2] != "5" {
		t.Fatalf("chunk sizes %v", got)
	}
	if len(got) != 203 {
		t.Fatalf("profiles %d want 203", len(got))
	}
	want := domain.Candidate{ID: "u0", ScreenName: "nu0", Followers: 100, Statuses: 50, Location: "Dublin, Ireland"}
	if got[0] != want {
		t.Fatalf("candidate %+v want %+v", got[0], want)
	}
}

func TestFollowerIDs_Pages(t *testing.T) {
	t.Parallel()

	var pages rec
	r := chi.NewRouter()
	r.Get("/2/users/{id}/followers", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") != "seed" {
			writeJSON(w, http.StatusNotFound, map[string]any{"title": "Not Found Error"})
			return
		}
		q := req.URL.Query()
		n, _ := strconv.Atoi(q.Get("max_results"))
		off, _ := strconv.Atoi(q.Get("pagination_token"))
		pages.add(strconv.Itoa(n))
		users := make([]map[string]any, 0, n)
		for i := off; i < off+n && i < 3000; i++ {
			users = append(users, map[string]any{"id": fmt.Sprintf("f%d", i), "name": "f", "username": "f"})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": users,
			"meta": map[string]any{"result_count": len(users), "next_token": strconv.Itoa(off + n)},
		})
	})
	c, _ := newTestClient(t, r)

	ids, err := c.FollowerIDs(context.Background(), "seed", 2500)
	if err != nil {
		t.Fatalf("FollowerIDs: %v", err)
	}
	if len(ids) != 2500 || ids[2499] != "f2499" {
		t.Fatalf("ids %d last %s", len(ids), ids[len(ids)-1])
	}
	if got := pages.get(); len(got) != 3 || got[0] != "1000" || got[2] != "500" {
		t.Fatalf("page sizes %v", got)
	}

	if _, err := c.FollowerIDs(context.Background(), "missing", 10); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestTimeline_QueryAndLimit(t *testing.T) {
	t.Parallel()

	var queries rec
	r := chi.NewRouter()
	r.Get("/2/users/{id}/tweets", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		queries.add(q.Get("max_results") + "|" + q.Get("exclude"))
		n, _ := strconv.Atoi(q.Get("max_results"))
		tweets := make([]map[string]any, 0, n)
		for i := range n {
			tw := tweetJSON(fmt.Sprintf("t%d", i), chi.URLParam(req, "id"), "en")
			if i == 0 {
				tw["referenced_tweets"] = []map[string]any{{"type": "retweeted", "id": "orig"}}
			}
			tweets = append(tweets, tw)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": tweets,
			"meta": map[string]any{"result_count": n, "next_token": "more"},
		})
	})
	c, _ := newTestClient(t, r)

	posts, err := c.Timeline(context.Background(), "u1", domain.TimelineQuery{Limit: 3, ExcludeRetweets: true})
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("posts %d want 3", len(posts))
	}
	if got := queries.get(); got[0] != "5|retweets" {
		t.Fatalf("query %q", got[0])
	}
	p := posts[0]
	if !p.IsRetweet || p.AuthorID != "u1" || p.Lang != "en" || p.Extra.LikeCount != 3 || p.Extra.Source != "web" {
		t.Fatalf("post %+v", p)
	}
	if !p.CreatedAt.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("created at %v", p.CreatedAt)
	}

	queries.reset()
	posts, err = c.Timeline(context.Background(), "u1", domain.TimelineQuery{Limit: 250})
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if got := queries.get(); len(posts) != 250 || len(got) != 3 || got[2] != "50|" {
		t.Fatalf("posts %d queries %v", len(posts), got)
	}
}

func TestLookupPosts_CountsInvalid(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Get("/2/tweets", func(w http.ResponseWriter, req *http.Request) {
		var tweets []map[string]any
		for id := range strings.SplitSeq(req.URL.Query().Get("ids"), ",") {
			if !strings.HasPrefix(id, "gone") {
				tweets = append(tweets, tweetJSON(id, "a", "en"))
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": tweets})
	})
	c, _ := newTestClient(t, r)

	ids := make([]string, 0, 150)
	for i := range 147 {
		ids = append(ids, fmt.Sprintf("p%d", i))
	}
	ids = append(ids, "gone1", "gone2", "gone3")

	posts, invalid, err := c.LookupPosts(context.Background(), ids)
	if err != nil {
		t.Fatalf("LookupPosts: %v", err)
	}
	if len(posts) != 147 || invalid != 3 {
		t.Fatalf("posts %d invalid %d", len(posts), invalid)
	}
}

func TestCall_ErrorMappingAndRetries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		header map[string]string
		code   perr.ErrorCode
		sleeps []time.Duration
	}{
		{name: "not found", status: http.StatusNotFound, code: perr.ErrorCodeNotFound},
		{name: "forbidden", status: http.StatusForbidden, code: perr.ErrorCodeForbidden},
		{name: "bad credentials", status: http.StatusUnauthorized, code: perr.ErrorCodeConfig},
		{
			name: "server error", status: http.StatusServiceUnavailable, code: perr.ErrorCodeUnavailable,
			sleeps: []time.Duration{500 * time.Millisecond, time.Second},
		},
		{
			name: "rate limited", status: http.StatusTooManyRequests, code: perr.ErrorCodeTooManyRequests,
			header: map[string]string{
				"x-rate-limit-limit":     "900",
				"x-rate-limit-remaining": "0",
				"x-rate-limit-reset":     strconv.FormatInt(t0.Add(time.Minute).Unix(), 10),
			},
			sleeps: []time.Duration{time.Minute, time.Minute},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			r := chi.NewRouter()
			r.Get("/2/users/{id}/tweets", func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				writeJSON(w, tc.status, map[string]any{"title": http.StatusText(tc.status), "detail": "x", "type": "about:blank"})
			})
			c, clk := newTestClient(t, r)

			_, err := c.Timeline(context.Background(), "u1", domain.TimelineQuery{Limit: 10})
			if !perr.IsCode(err, tc.code) {
				t.Fatalf("want %s, got %v", tc.code, err)
			}
			if n := int(calls.Load()); n != len(tc.sleeps)+1 {
				t.Fatalf("calls %d", n)
			}
			got := clk.Sleeps()
			if len(got) != len(tc.sleeps) {
				t.Fatalf("sleeps %v want %v", got, tc.sleeps)
			}
			for i := range got {
				// the reset based wait shrinks as the fake clock advances
				if got[i] > tc.sleeps[i] {
					t.Fatalf("sleeps %v want at most %v", got, tc.sleeps)
				}
			}
		})
	}
}

func TestCall_RecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := chi.NewRouter()
	r.Get("/2/users", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{userJSON("u1", 1, 1)}})
	})
	c, clk := newTestClient(t, r)

	got, err := c.LookupProfiles(context.Background(), []string{"u1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v err %v", got, err)
	}
	if s := clk.Sleeps(); len(s) != 2 || s[0] != 500*time.Millisecond || s[1] != time.Second {
		t.Fatalf("sleeps %v", s)
	}
}

func TestBackoff_Caps(t *testing.T) {
	t.Parallel()

	c := newClient(nil, nil, Options{RetryBase: time.Second}, clock.NewFake(t0), nil)
	cases := map[int]time.Duration{0: time.Second, 3: 8 * time.Second, 5: maxBackoff, 40: maxBackoff}
	for attempt, want := range cases {
		if got := c.backoff(attempt); got != want {
			t.Fatalf("backoff(%d)=%v want %v", attempt, got, want)
		}
	}
}
