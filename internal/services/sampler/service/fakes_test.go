package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"miping/internal/platform/clock"
	perr "miping/internal/platform/errors"
	"miping/internal/services/sampler/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClient serves canned data keyed by id
type fakeClient struct {
	mu sync.Mutex

	clk       *clock.Fake
	stream    []domain.StreamPost
	streamGap time.Duration
	streamErr error

	profiles  map[string]domain.Candidate
	followers map[string][]string
	followErr map[string]error
	timelines map[string][]domain.Post
	timeErr   map[string]error
	posts     map[string]domain.Post

	lookupCalls   [][]string
	followerCalls []string
	timelineCalls []string
	timelineQs    []domain.TimelineQuery
}

func newFakeClient(clk *clock.Fake) *fakeClient {
	return &fakeClient{
		clk:       clk,
		profiles:  map[string]domain.Candidate{},
		followers: map[string][]string{},
		followErr: map[string]error{},
		timelines: map[string][]domain.Post{},
		timeErr:   map[string]error{},
		posts:     map[string]domain.Post{},
	}
}

func (f *fakeClient) Stream(ctx context.Context, _ domain.StreamQuery, fn func(domain.StreamPost) bool) error {
	for _, sp := range f.stream {
		if f.streamGap > 0 {
			f.clk.Advance(f.streamGap)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(sp) {
			return nil
		}
	}
	return f.streamErr
}

func (f *fakeClient) LookupProfiles(_ context.Context, ids []string) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls = append(f.lookupCalls, append([]string(nil), ids...))
	var out []domain.Candidate
	for _, id := range ids {
		if c, ok := f.profiles[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeClient) LookupPosts(_ context.Context, ids []string) ([]domain.Post, int, error) {
	var out []domain.Post
	invalid := 0
	for _, id := range ids {
		if p, ok := f.posts[id]; ok {
			out = append(out, p)
			continue
		}
		invalid++
	}
	return out, invalid, nil
}

func (f *fakeClient) FollowerIDs(_ context.Context, id string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followerCalls = append(f.followerCalls, id)
	if err := f.followErr[id]; err != nil {
		return nil, err
	}
	ids := f.followers[id]
	return ids[:min(limit, len(ids))], nil
}

func (f *fakeClient) Timeline(_ context.Context, id string, q domain.TimelineQuery) ([]domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timelineCalls = append(f.timelineCalls, id)
	f.timelineQs = append(f.timelineQs, q)
	if err := f.timeErr[id]; err != nil {
		return nil, err
	}
	ps := f.timelines[id]
	return ps[:min(q.Limit, len(ps))], nil
}

// timeline builds n posts for author in lang
func timeline(author, lang string, n int) []domain.Post {
	out := make([]domain.Post, n)
	for i := range out {
		out[i] = domain.Post{
			ID:        fmt.Sprintf("%s-%s-%d", author, lang, i),
			AuthorID:  author,
			CreatedAt: t0.Add(-time.Duration(i) * time.Hour),
			Text:      fmt.Sprintf("post %d by %s", i, author),
			Lang:      lang,
		}
	}
	return out
}

type fakeGeo struct {
	addrs map[string][]string
	err   map[string]error
	calls []string
}

func (g *fakeGeo) ResolveAddress(_ context.Context, text string) ([]string, error) {
	g.calls = append(g.calls, text)
	if err := g.err[text]; err != nil {
		return nil, err
	}
	return g.addrs[text], nil
}

type recNotifier struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (n *recNotifier) Progress(_ context.Context, ev domain.ProgressEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

type memCheckpoint struct {
	users    map[domain.Stage][]domain.Candidate
	usersIDs map[domain.Stage]bool
	posts    map[domain.Stage][]domain.Post
	postsIDs map[domain.Stage]bool
	profiles []domain.Profile
}

func newMemCheckpoint() *memCheckpoint {
	return &memCheckpoint{
		users:    map[domain.Stage][]domain.Candidate{},
		usersIDs: map[domain.Stage]bool{},
		posts:    map[domain.Stage][]domain.Post{},
		postsIDs: map[domain.Stage]bool{},
	}
}

func (m *memCheckpoint) WriteUsers(_ context.Context, _ domain.Region, s domain.Stage, users []domain.Candidate, idsOnly bool) error {
	if idsOnly {
		stripped := make([]domain.Candidate, len(users))
		for i, u := range users {
			stripped[i] = domain.Candidate{ID: u.ID}
		}
		users = stripped
	}
	m.users[s], m.usersIDs[s] = users, idsOnly
	return nil
}

func (m *memCheckpoint) ReadUsers(_ context.Context, _ domain.Region, s domain.Stage) ([]domain.Candidate, bool, error) {
	u, ok := m.users[s]
	if !ok {
		return nil, false, perr.NotFoundf("no checkpoint %s", s)
	}
	return u, m.usersIDs[s], nil
}

func (m *memCheckpoint) WritePosts(_ context.Context, _ domain.Region, s domain.Stage, posts []domain.Post, idsOnly bool) error {
	if idsOnly {
		stripped := make([]domain.Post, len(posts))
		for i, p := range posts {
			stripped[i] = domain.Post{ID: p.ID}
		}
		posts = stripped
	}
	m.posts[s], m.postsIDs[s] = posts, idsOnly
	return nil
}

func (m *memCheckpoint) ReadPosts(_ context.Context, _ domain.Region, s domain.Stage) ([]domain.Post, bool, error) {
	p, ok := m.posts[s]
	if !ok {
		return nil, false, perr.NotFoundf("no checkpoint %s", s)
	}
	return p, m.postsIDs[s], nil
}

func (m *memCheckpoint) WriteProfiles(_ context.Context, _ domain.Region, profiles []domain.Profile) error {
	m.profiles = profiles
	return nil
}

func (m *memCheckpoint) ReadProfiles(_ context.Context, _ domain.Region) ([]domain.Profile, error) {
	return m.profiles, nil
}

type recSink struct {
	runs    []string
	corpora []domain.Corpus
	err     error
}

func (r *recSink) SaveCorpus(_ context.Context, runID string, c domain.Corpus) error {
	r.runs = append(r.runs, runID)
	r.corpora = append(r.corpora, c)
	return r.err
}

func testRegion() domain.Region {
	return domain.Region{
		Name:               "Ireland",
		Country:            "Ireland",
		CountryCode:        "IE",
		Lang:               "en",
		Box:                domain.BoundingBox{West: -10.5, South: 51.4, East: -6.0, North: 55.4},
		LangThreshold:      1.0,
		OtherLangThreshold: 0.0,
		Eligibility:        domain.Eligibility{MinFollowers: 10, MaxFollowers: 1000, MinStatuses: 5},
	}
}

type harness struct {
	clk    *clock.Fake
	client *fakeClient
	geo    *fakeGeo
	notify *recNotifier
	cp     *memCheckpoint
	sink   *recSink
	svc    *Svc
}

func newHarness(cfg Config) *harness {
	clk := clock.NewFake(t0)
	h := &harness{
		clk:    clk,
		client: newFakeClient(clk),
		geo:    &fakeGeo{addrs: map[string][]string{}, err: map[string]error{}},
		notify: &recNotifier{},
		cp:     newMemCheckpoint(),
		sink:   &recSink{},
	}
	h.svc = New(Deps{
		Client:      h.client,
		Geo:         h.geo,
		Notify:      h.notify,
		Checkpoints: h.cp,
		Sinks:       []domain.CorpusSink{h.sink},
		Clock:       clk,
		Rand:        rand.New(rand.NewPCG(1, 2)),
		RunID:       "run-test",
	}, cfg)
	return h
}

func pool(kind domain.PoolKind, ids ...string) domain.Pool {
	cands := make([]domain.Candidate, len(ids))
	for i, id := range ids {
		cands[i] = domain.Candidate{ID: id, ScreenName: "u" + id, Followers: 100, Statuses: 100}
	}
	return domain.NewPool(kind, cands)
}
