package twitter

import (
	"context"
	"fmt"
	"strings"
	"time"

	perr "miping/internal/platform/errors"
	"miping/internal/services/sampler/domain"

	twitter "github.com/g8rswimmer/go-twitter/v2"
)

const ruleCleanupTimeout = 10 * time.Second

// streamRule selects posts by country code when known, else by bounding box
func streamRule(q domain.StreamQuery) (twitter.TweetSearchStreamRule, error) {
	var value string
	switch {
	case q.CountryCode != "":
		value = "place_country:" + strings.ToUpper(q.CountryCode)
	case q.Box.Valid():
		value = fmt.Sprintf("bounding_box:[%s]", q.Box)
	default:
		return twitter.TweetSearchStreamRule{}, perr.Configf("stream needs a country code or a valid bounding box")
	}
	return twitter.TweetSearchStreamRule{Value: value, Tag: "miping " + value}, nil
}

// Stream installs a rule for q, then delivers matching posts to fn until fn
// returns false, ctx ends or the connection fails. The rule is removed on return
func (c *Client) Stream(ctx context.Context, q domain.StreamQuery, fn func(domain.StreamPost) bool) error {
	if c.stream == nil {
		return perr.Configf("streaming requires a bearer token")
	}
	rule, err := streamRule(q)
	if err != nil {
		return err
	}

	var id twitter.TweetSearchStreamRuleID
	if err := c.call(ctx, epRules, func(ctx context.Context) error {
		var err error
		id, err = c.stream.AddRule(ctx, rule)
		return err
	}); err != nil {
		if perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
			return perr.WithField(perr.Wrapf(err, perr.ErrorCodeConfig, "stream rule %q refused", rule.Value), "stream_rule")
		}
		return err
	}
	defer c.dropRule(ctx, id)

	var conn streamConn
	if err := c.call(ctx, epStream, func(ctx context.Context) error {
		var err error
		conn, err = c.stream.Open(ctx, twitter.TweetSearchStreamOpts{
			TweetFields: tweetFields,
			UserFields:  userFields,
			Expansions:  append([]twitter.Expansion{"author_id"}, postExpansions...),
		})
		return err
	}); err != nil {
		return err
	}
	defer conn.Close()
	c.log.Info().Str("rule", rule.Value).Msg("stream connected")

	msgs, errs := conn.Messages(), conn.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return perr.WithOp(perr.Wrap(err, perr.ErrorCodeUnavailable, "stream read"), "twitter.stream")
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return perr.Unavailablef("stream closed by remote")
			}
			for _, sp := range streamPosts(msg) {
				if !fn(sp) {
					return nil
				}
			}
		}
	}
}

// dropRule runs after ctx may have ended, so it gets its own deadline
func (c *Client) dropRule(ctx context.Context, id twitter.TweetSearchStreamRuleID) {
	if id == "" {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ruleCleanupTimeout)
	defer cancel()
	if err := c.stream.DeleteRule(dctx, id); err != nil {
		c.log.Warn().Err(err).Str("rule_id", string(id)).Msg("stream rule not removed")
	}
}

// streamPosts pairs each streamed tweet with its expanded author
func streamPosts(msg *twitter.TweetMessage) []domain.StreamPost {
	if msg == nil || msg.Raw == nil {
		return nil
	}
	authors := map[string]*twitter.UserObj{}
	if inc := msg.Raw.Includes; inc != nil {
		for _, u := range inc.Users {
			if u != nil {
				authors[u.ID] = u
			}
		}
	}
	orig := originals(msg.Raw)
	out := make([]domain.StreamPost, 0, len(msg.Raw.Tweets))
	for _, t := range msg.Raw.Tweets {
		if t == nil {
			continue
		}
		sp := domain.StreamPost{Post: toPost(t, orig), Author: domain.Candidate{ID: t.AuthorID}}
		if u, ok := authors[t.AuthorID]; ok {
			sp.Author = toCandidate(u)
		}
		out = append(out, sp)
	}
	return out
}
