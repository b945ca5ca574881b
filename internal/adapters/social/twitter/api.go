package twitter

import (
	"context"
	"time"

	"miping/internal/core/normalize"
	perr "miping/internal/platform/errors"
	"miping/internal/services/sampler/domain"

	twitter "github.com/g8rswimmer/go-twitter/v2"
)

// restAPI is the subset of *twitter.Client the adapter calls
type restAPI interface {
	UserLookup(ctx context.Context, ids []string, opts twitter.UserLookupOpts) (*twitter.UserLookupResponse, error)
	UserFollowersLookup(ctx context.Context, id string, opts twitter.UserFollowersLookupOpts) (*twitter.UserFollowersLookupResponse, error)
	UserTweetTimeline(ctx context.Context, userID string, opts twitter.UserTweetTimelineOpts) (*twitter.UserTweetTimelineResponse, error)
	TweetLookup(ctx context.Context, ids []string, opts twitter.TweetLookupOpts) (*twitter.TweetLookupResponse, error)
}

// streamConn is an open filtered stream
type streamConn interface {
	Messages() <-chan *twitter.TweetMessage
	Errors() <-chan error
	Close()
}

// streamAPI manages filtered stream rules and connections
type streamAPI interface {
	AddRule(ctx context.Context, r twitter.TweetSearchStreamRule) (twitter.TweetSearchStreamRuleID, error)
	DeleteRule(ctx context.Context, id twitter.TweetSearchStreamRuleID) error
	Open(ctx context.Context, opts twitter.TweetSearchStreamOpts) (streamConn, error)
}

var (
	tweetFields = []twitter.TweetField{
		"author_id", "created_at", "lang", "referenced_tweets", "public_metrics",
		"source", "conversation_id", "in_reply_to_user_id", "possibly_sensitive",
	}
	userFields = []twitter.UserField{"public_metrics", "location"}
	// retweet bodies are truncated, the expanded original carries the full text
	postExpansions = []twitter.Expansion{"referenced_tweets.id"}
)

type liveStream struct{ c *twitter.Client }

func (l liveStream) AddRule(ctx context.Context, r twitter.TweetSearchStreamRule) (twitter.TweetSearchStreamRuleID, error) {
	resp, err := l.c.TweetSearchStreamAddRule(ctx, []twitter.TweetSearchStreamRule{r}, false)
	if err != nil {
		return "", err
	}
	if resp != nil && len(resp.Rules) > 0 {
		return resp.Rules[0].ID, nil
	}

	// a duplicate rule is not echoed back, find the one already installed
	existing, err := l.c.TweetSearchStreamRules(ctx, nil)
	if err != nil {
		return "", err
	}
	if existing != nil {
		for _, e := range existing.Rules {
			if e != nil && e.Value == r.Value {
				return e.ID, nil
			}
		}
	}
	return "", perr.WithField(perr.Configf("stream rule %q rejected", r.Value), "stream_rule")
}

func (l liveStream) DeleteRule(ctx context.Context, id twitter.TweetSearchStreamRuleID) error {
	_, err := l.c.TweetSearchStreamDeleteRuleByID(ctx, []twitter.TweetSearchStreamRuleID{id}, false)
	return err
}

func (l liveStream) Open(ctx context.Context, opts twitter.TweetSearchStreamOpts) (streamConn, error) {
	ts, err := l.c.TweetSearchStream(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tweetStream{ts}, nil
}

type tweetStream struct{ ts *twitter.TweetStream }

func (s tweetStream) Messages() <-chan *twitter.TweetMessage { return s.ts.Tweets() }
func (s tweetStream) Errors() <-chan error                   { return s.ts.Err() }
func (s tweetStream) Close()                                 { s.ts.Close() }

func toCandidate(u *twitter.UserObj) domain.Candidate {
	c := domain.Candidate{
		ID:         u.ID,
		ScreenName: u.UserName,
		Location:   normalize.Location(u.Location),
	}
	if m := u.PublicMetrics; m != nil {
		c.Followers = m.Followers
		c.Statuses = m.Tweets
	}
	return c
}

// originals indexes the referenced tweets expanded into raw
func originals(raw *twitter.TweetRaw) map[string]*twitter.TweetObj {
	if raw == nil || raw.Includes == nil {
		return nil
	}
	out := make(map[string]*twitter.TweetObj, len(raw.Includes.Tweets))
	for _, t := range raw.Includes.Tweets {
		if t != nil {
			out[t.ID] = t
		}
	}
	return out
}

func toPost(t *twitter.TweetObj, orig map[string]*twitter.TweetObj) domain.Post {
	p := domain.Post{
		ID:       t.ID,
		AuthorID: t.AuthorID,
		Text:     t.Text,
		Lang:     t.Language,
		Extra: domain.Extras{
			Source:            t.Source,
			ConversationID:    t.ConversationID,
			InReplyToUserID:   t.InReplyToUserID,
			PossiblySensitive: t.PossiblySensitive,
		},
	}
	if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		p.CreatedAt = ts.UTC()
	}
	for _, ref := range t.ReferencedTweets {
		if ref == nil || ref.Type != "retweeted" {
			continue
		}
		p.IsRetweet = true
		if o, ok := orig[ref.ID]; ok && o.Text != "" {
			p.Text = o.Text
		}
	}
	if m := t.PublicMetrics; m != nil {
		p.Extra.RetweetCount = m.Retweets
		p.Extra.ReplyCount = m.Replies
		p.Extra.LikeCount = m.Likes
		p.Extra.QuoteCount = m.Quotes
	}
	return p
}
