package domain

import (
	"strconv"
	"strings"

	perr "miping/internal/platform/errors"
)

// ExtraAttr maps one configured attribute name onto a typed Post field
type ExtraAttr struct {
	Name string
	Get  func(Post) string
	Set  func(*Post, string) error
}

func intAttr(name string, field func(*Extras) *int) ExtraAttr {
	return ExtraAttr{
		Name: name,
		Get:  func(p Post) string { return strconv.Itoa(*field(&p.Extra)) },
		Set: func(p *Post, s string) error {
			if s == "" {
				*field(&p.Extra) = 0
				return nil
			}
			n, err := strconv.Atoi(s)
			if err != nil {
				return perr.Wrapf(err, perr.ErrorCodeValidation, "attribute %s", name)
			}
			*field(&p.Extra) = n
			return nil
		},
	}
}

func strAttr(name string, field func(*Extras) *string) ExtraAttr {
	return ExtraAttr{
		Name: name,
		Get:  func(p Post) string { return *field(&p.Extra) },
		Set:  func(p *Post, s string) error { *field(&p.Extra) = s; return nil },
	}
}

// extraAttrs is the translation table from configuration names to fields
var extraAttrs = map[string]ExtraAttr{
	"source":           strAttr("source", func(e *Extras) *string { return &e.Source }),
	"conversation_id":  strAttr("conversation_id", func(e *Extras) *string { return &e.ConversationID }),
	"in_reply_to_user": strAttr("in_reply_to_user", func(e *Extras) *string { return &e.InReplyToUserID }),
	"retweet_count":    intAttr("retweet_count", func(e *Extras) *int { return &e.RetweetCount }),
	"reply_count":      intAttr("reply_count", func(e *Extras) *int { return &e.ReplyCount }),
	"like_count":       intAttr("like_count", func(e *Extras) *int { return &e.LikeCount }),
	"quote_count":      intAttr("quote_count", func(e *Extras) *int { return &e.QuoteCount }),
	"possibly_sensitive": {
		Name: "possibly_sensitive",
		Get:  func(p Post) string { return strconv.FormatBool(p.Extra.PossiblySensitive) },
		Set: func(p *Post, s string) error {
			if s == "" {
				p.Extra.PossiblySensitive = false
				return nil
			}
			b, err := strconv.ParseBool(s)
			if err != nil {
				return perr.Wrapf(err, perr.ErrorCodeValidation, "attribute possibly_sensitive")
			}
			p.Extra.PossiblySensitive = b
			return nil
		},
	},
}

// coreAttrs are always stored and accepted in configuration without effect
var coreAttrs = map[string]bool{"id": true, "user_id": true, "created_at": true, "is_retweet": true, "text": true, "lang": true}

// ResolveExtras maps configured names to table entries, in order and without duplicates
// Unknown names are a configuration error
func ResolveExtras(names []string) ([]ExtraAttr, error) {
	out := make([]ExtraAttr, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		n := strings.ToLower(strings.TrimSpace(raw))
		if n == "" || coreAttrs[n] || seen[n] {
			continue
		}
		a, ok := extraAttrs[n]
		if !ok {
			return nil, perr.WithField(perr.Configf("unknown extra attribute %q", raw), "extra_attributes")
		}
		seen[n] = true
		out = append(out, a)
	}
	return out, nil
}
