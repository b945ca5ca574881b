package twitter

import (
	"context"

	"miping/internal/services/sampler/domain"

	twitter "github.com/g8rswimmer/go-twitter/v2"
)

// LookupProfiles resolves ids in chunks of 100; suspended and unknown ids are dropped
func (c *Client) LookupProfiles(ctx context.Context, ids []string) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, 0, len(ids))
	for part := range chunks(ids, lookupChunk) {
		var resp *twitter.UserLookupResponse
		err := c.call(ctx, epUsers, func(ctx context.Context) error {
			var err error
			resp, err = c.rest.UserLookup(ctx, part, twitter.UserLookupOpts{UserFields: userFields})
			return err
		})
		if err != nil {
			return nil, err
		}
		if resp == nil || resp.Raw == nil {
			continue
		}
		for _, u := range resp.Raw.Users {
			if u != nil {
				out = append(out, toCandidate(u))
			}
		}
	}
	return out, nil
}

// FollowerIDs pages through the followers of userID until limit ids are collected
func (c *Client) FollowerIDs(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var (
		out   []string
		token string
	)
	for len(out) < limit {
		opts := twitter.UserFollowersLookupOpts{
			MaxResults:      min(FollowersPage, limit-len(out)),
			PaginationToken: token,
		}
		var resp *twitter.UserFollowersLookupResponse
		err := c.call(ctx, epFollowers, func(ctx context.Context) error {
			var err error
			resp, err = c.rest.UserFollowersLookup(ctx, userID, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		if resp == nil || resp.Raw == nil {
			break
		}
		for _, u := range resp.Raw.Users {
			if u != nil && len(out) < limit {
				out = append(out, u.ID)
			}
		}
		if resp.Meta == nil || resp.Meta.NextToken == "" {
			break
		}
		token = resp.Meta.NextToken
	}
	return out, nil
}
