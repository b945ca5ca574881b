package service

import (
	"context"
	"testing"
	"time"

	perr "miping/internal/platform/errors"
	"miping/internal/services/sampler/domain"
)

func streamPost(id string, followers, statuses int, retweet bool) domain.StreamPost {
	return domain.StreamPost{
		Post:   domain.Post{ID: "p" + id, AuthorID: id, IsRetweet: retweet, Lang: "en"},
		Author: domain.Candidate{ID: id, Followers: followers, Statuses: statuses},
	}
}

func TestCollect_FiltersAndCounts(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.client.stream = []domain.StreamPost{
		streamPost("ok1", 100, 50, false),
		streamPost("rt", 100, 50, true),
		streamPost("quiet", 100, 4, false),
		streamPost("small", 9, 50, false),
		streamPost("big", 1001, 50, false),
		streamPost("edge", 1000, 5, false),
	}
	h.client.streamErr = perr.Unavailablef("stream closed by server")

	posts, rep, err := h.svc.Collect(context.Background(), testRegion(), domain.Sampling{
		StreamDuration:  time.Hour,
		ExcludeRetweets: true,
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(posts) != 2 || posts[0].AuthorID != "ok1" || posts[1].AuthorID != "edge" {
		t.Fatalf("posts %+v", posts)
	}
	if rep.Seen != 6 || rep.Admitted != 2 || rep.SkippedRetweet != 1 || rep.SkippedStatuses != 1 || rep.SkippedFollowers != 2 {
		t.Fatalf("report %+v", rep)
	}
	if rep.EndedBy != EndedByTransport || rep.TransportErr == nil {
		t.Fatalf("ended_by=%s err=%v want transport", rep.EndedBy, rep.TransportErr)
	}
}

func TestCollect_RetweetsKeptWhenAllowed(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.client.stream = []domain.StreamPost{streamPost("rt", 100, 50, true)}

	posts, rep, err := h.svc.Collect(context.Background(), testRegion(), domain.Sampling{StreamDuration: time.Minute})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(posts) != 1 || rep.SkippedRetweet != 0 {
		t.Fatalf("posts=%d report=%+v", len(posts), rep)
	}
}

func TestCollect_EndsAtDuration(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		h.client.stream = append(h.client.stream, streamPost(id, 100, 50, false))
	}
	h.client.streamGap = time.Second

	posts, rep, err := h.svc.Collect(context.Background(), testRegion(), domain.Sampling{StreamDuration: 3 * time.Second})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("posts %d want 2", len(posts))
	}
	if rep.EndedBy != EndedByDuration || rep.TransportErr != nil {
		t.Fatalf("report %+v", rep)
	}
	if rep.Elapsed != 3*time.Second {
		t.Fatalf("elapsed %v", rep.Elapsed)
	}
}

func TestCollect_Canceled(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	h.client.stream = []domain.StreamPost{streamPost("a", 100, 50, false)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, rep, err := h.svc.Collect(ctx, testRegion(), domain.Sampling{StreamDuration: time.Minute})
	if !perr.IsCanceled(err) {
		t.Fatalf("want canceled, got %v", err)
	}
	if rep.EndedBy != EndedByCanceled {
		t.Fatalf("ended_by %s", rep.EndedBy)
	}
}

func TestCollect_RejectsNonPositiveDuration(t *testing.T) {
	t.Parallel()

	h := newHarness(Config{})
	_, _, err := h.svc.Collect(context.Background(), testRegion(), domain.Sampling{})
	if !perr.IsCode(err, perr.ErrorCodeConfig) {
		t.Fatalf("want config error, got %v", err)
	}
}

func TestCollect_ConfigErrorIsFatal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
	}{
		{name: "missing token", err: perr.Configf("streaming requires a bearer token")},
		{name: "rule refused", err: perr.WithField(perr.Configf("stream rule refused"), "stream_rule")},
		{name: "token revoked", err: perr.New(perr.ErrorCodeUnauthorized, "twitter unauthorized")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(Config{})
			h.client.streamErr = tc.err

			posts, rep, err := h.svc.Collect(context.Background(), testRegion(), domain.Sampling{StreamDuration: time.Minute})
			if perr.CodeOf(err) != perr.CodeOf(tc.err) {
				t.Fatalf("want %s, got %v", perr.CodeOf(tc.err), err)
			}
			if len(posts) != 0 || rep.EndedBy != "" || rep.TransportErr != nil {
				t.Fatalf("posts %d ended_by %q transport %v", len(posts), rep.EndedBy, rep.TransportErr)
			}
		})
	}
}
