package twitter

import (
	"context"

	perr "miping/internal/platform/errors"
	"miping/internal/services/sampler/domain"

	twitter "github.com/g8rswimmer/go-twitter/v2"
)

// Timeline returns up to q.Limit of the user's most recent posts, newest first.
// Pages hold at most 100 posts; the API serves no more than 3200 in total
func (c *Client) Timeline(ctx context.Context, userID string, q domain.TimelineQuery) ([]domain.Post, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	var excludes []twitter.Exclude
	if q.ExcludeRetweets {
		excludes = []twitter.Exclude{"retweets"}
	}

	var (
		out   []domain.Post
		token string
	)
	for page := 0; len(out) < q.Limit; page++ {
		opts := twitter.UserTweetTimelineOpts{
			TweetFields:     tweetFields,
			Expansions:      postExpansions,
			Excludes:        excludes,
			MaxResults:      max(timelineMin, min(timelinePage, q.Limit-len(out))),
			PaginationToken: token,
		}
		var resp *twitter.UserTweetTimelineResponse
		err := c.call(ctx, epTimeline, func(ctx context.Context) error {
			var err error
			resp, err = c.rest.UserTweetTimeline(ctx, userID, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		if resp == nil || resp.Raw == nil {
			break
		}
		// suspended and protected accounts answer 200 with errors only
		if page == 0 && len(resp.Raw.Tweets) == 0 && len(resp.Raw.Errors) > 0 {
			title := ""
			if e := resp.Raw.Errors[0]; e != nil {
				title = e.Title
			}
			return nil, perr.CandidateUnavailablef("timeline of %s: %s", userID, title)
		}
		orig := originals(resp.Raw)
		for _, t := range resp.Raw.Tweets {
			if t != nil && len(out) < q.Limit {
				p := toPost(t, orig)
				if p.AuthorID == "" {
					p.AuthorID = userID
				}
				out = append(out, p)
			}
		}
		if resp.Meta == nil || resp.Meta.NextToken == "" {
			break
		}
		token = resp.Meta.NextToken
	}
	return out, nil
}

// LookupPosts resolves ids in chunks of 100 and counts the ids the API did not return
func (c *Client) LookupPosts(ctx context.Context, ids []string) ([]domain.Post, int, error) {
	out := make([]domain.Post, 0, len(ids))
	invalid := 0
	for part := range chunks(ids, lookupChunk) {
		var resp *twitter.TweetLookupResponse
		err := c.call(ctx, epTweets, func(ctx context.Context) error {
			var err error
			resp, err = c.rest.TweetLookup(ctx, part, twitter.TweetLookupOpts{TweetFields: tweetFields, Expansions: postExpansions})
			return err
		})
		if err != nil {
			return nil, 0, err
		}
		found := 0
		if resp != nil && resp.Raw != nil {
			orig := originals(resp.Raw)
			for _, t := range resp.Raw.Tweets {
				if t != nil {
					out = append(out, toPost(t, orig))
					found++
				}
			}
		}
		invalid += len(part) - found
	}
	return out, invalid, nil
}
