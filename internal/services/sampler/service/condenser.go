package service

import (
	"strings"

	"miping/internal/core/normalize"
	"miping/internal/services/sampler/domain"
)

// Condense joins each user's posts into one profile document, in user order.
// Every user gets a profile; one without usable posts gets an empty document
func Condense(users []domain.Candidate, posts []domain.Post, lang string) []domain.Profile {
	byAuthor := make(map[string][]string, len(users))
	for _, p := range posts {
		if t := normalize.PostText(p.Text); t != "" {
			byAuthor[p.AuthorID] = append(byAuthor[p.AuthorID], t)
		}
	}
	out := make([]domain.Profile, 0, len(users))
	seen := make(map[string]struct{}, len(users))
	for _, u := range users {
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		texts := byAuthor[u.ID]
		text := normalize.Collapse(strings.Join(texts, " "))
		out = append(out, domain.Profile{
			UserID:    u.ID,
			Text:      text,
			WordCount: normalize.WordCount(text),
			PostCount: len(texts),
			Lang:      lang,
		})
	}
	return out
}
