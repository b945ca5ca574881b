// Package checkpoint stores pipeline stage outputs as headerless CSV files,
// one file per stage, region and record kind
//
// Columns
//
//	users     id, screen_name, followers, statuses, location
//	posts     id, created_at, user_id, is_retweet, text, lang, extras...
//	profiles  user_id, text, word_count, post_count, lang
//
// ids-only files carry the first column alone. created_at is RFC 3339 UTC
// with sub-second digits kept
package checkpoint

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/platform/metrics"
	"miping/internal/services/sampler/domain"
)

const (
	kindPosts    = "posts"
	kindUsers    = "users"
	kindProfiles = "profiles"

	postCols    = 6
	userCols    = 5
	profileCols = 5
)

// Store implements domain.CheckpointStore under a data directory
type Store struct {
	dir    string
	extras []domain.ExtraAttr
	met    *metrics.Registry
}

// New returns a Store rooted at dir. extras are the trailing post columns, in order
func New(dir string, extras []domain.ExtraAttr, met *metrics.Registry) *Store {
	return &Store{dir: dir, extras: extras, met: met}
}

// Path is "<dir>/<stage><Country><kind>.csv", e.g. data/02seedNewZealandusers.csv
func (s *Store) Path(r domain.Region, stage domain.Stage, kind string) string {
	country := strings.ReplaceAll(strings.TrimSpace(r.Country), " ", "")
	return filepath.Join(s.dir, string(stage)+country+kind+".csv")
}

// WriteUsers implements domain.CheckpointStore
func (s *Store) WriteUsers(ctx context.Context, r domain.Region, st domain.Stage, users []domain.Candidate, idsOnly bool) error {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		if idsOnly {
			rows = append(rows, []string{u.ID})
			continue
		}
		rows = append(rows, []string{u.ID, u.ScreenName, strconv.Itoa(u.Followers), strconv.Itoa(u.Statuses), u.Location})
	}
	return s.write(ctx, s.Path(r, st, kindUsers), st, rows)
}

// ReadUsers implements domain.CheckpointStore
func (s *Store) ReadUsers(ctx context.Context, r domain.Region, st domain.Stage) ([]domain.Candidate, bool, error) {
	path := s.Path(r, st, kindUsers)
	rows, idsOnly, err := s.read(ctx, path, st)
	if err != nil {
		return nil, false, err
	}
	out := make([]domain.Candidate, 0, len(rows))
	for i, row := range rows {
		if idsOnly {
			out = append(out, domain.Candidate{ID: row[0]})
			continue
		}
		if len(row) < userCols {
			return nil, false, shortRow(path, i, len(row), userCols)
		}
		followers, err1 := strconv.Atoi(row[2])
		statuses, err2 := strconv.Atoi(row[3])
		if err := errors.Join(err1, err2); err != nil {
			return nil, false, badRow(err, path, i)
		}
		out = append(out, domain.Candidate{ID: row[0], ScreenName: row[1], Followers: followers, Statuses: statuses, Location: row[4]})
	}
	return out, idsOnly, nil
}

// WritePosts implements domain.CheckpointStore
func (s *Store) WritePosts(ctx context.Context, r domain.Region, st domain.Stage, posts []domain.Post, idsOnly bool) error {
	rows := make([][]string, 0, len(posts))
	for _, p := range posts {
		if idsOnly {
			rows = append(rows, []string{p.ID})
			continue
		}
		created := ""
		if !p.CreatedAt.IsZero() {
			created = p.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		row := make([]string, 0, postCols+len(s.extras))
		row = append(row, p.ID, created, p.AuthorID, strconv.FormatBool(p.IsRetweet), flattenCR(p.Text), p.Lang)
		for _, a := range s.extras {
			row = append(row, a.Get(p))
		}
		rows = append(rows, row)
	}
	return s.write(ctx, s.Path(r, st, kindPosts), st, rows)
}

// ReadPosts implements domain.CheckpointStore
func (s *Store) ReadPosts(ctx context.Context, r domain.Region, st domain.Stage) ([]domain.Post, bool, error) {
	path := s.Path(r, st, kindPosts)
	rows, idsOnly, err := s.read(ctx, path, st)
	if err != nil {
		return nil, false, err
	}
	out := make([]domain.Post, 0, len(rows))
	for i, row := range rows {
		if idsOnly {
			out = append(out, domain.Post{ID: row[0]})
			continue
		}
		if len(row) < postCols+len(s.extras) {
			return nil, false, shortRow(path, i, len(row), postCols+len(s.extras))
		}
		p := domain.Post{ID: row[0], AuthorID: row[2], Text: row[4], Lang: row[5]}
		if row[1] != "" {
			ts, err := time.Parse(time.RFC3339Nano, row[1])
			if err != nil {
				return nil, false, badRow(err, path, i)
			}
			p.CreatedAt = ts
		}
		rt, err := strconv.ParseBool(row[3])
		if err != nil {
			return nil, false, badRow(err, path, i)
		}
		p.IsRetweet = rt
		for j, a := range s.extras {
			if err := a.Set(&p, row[postCols+j]); err != nil {
				return nil, false, badRow(err, path, i)
			}
		}
		out = append(out, p)
	}
	return out, idsOnly, nil
}

// WriteProfiles implements domain.CheckpointStore
func (s *Store) WriteProfiles(ctx context.Context, r domain.Region, profiles []domain.Profile) error {
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, []string{p.UserID, flattenCR(p.Text), strconv.Itoa(p.WordCount), strconv.Itoa(p.PostCount), p.Lang})
	}
	return s.write(ctx, s.Path(r, domain.StageCondensed, kindProfiles), domain.StageCondensed, rows)
}

// ReadProfiles implements domain.CheckpointStore
func (s *Store) ReadProfiles(ctx context.Context, r domain.Region) ([]domain.Profile, error) {
	path := s.Path(r, domain.StageCondensed, kindProfiles)
	rows, _, err := s.read(ctx, path, domain.StageCondensed)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Profile, 0, len(rows))
	for i, row := range rows {
		if len(row) < profileCols {
			return nil, shortRow(path, i, len(row), profileCols)
		}
		words, err1 := strconv.Atoi(row[2])
		posts, err2 := strconv.Atoi(row[3])
		if err := errors.Join(err1, err2); err != nil {
			return nil, badRow(err, path, i)
		}
		out = append(out, domain.Profile{UserID: row[0], Text: row[1], WordCount: words, PostCount: posts, Lang: row[4]})
	}
	return out, nil
}

// write replaces path atomically through a temp file in the same directory
func (s *Store) write(ctx context.Context, path string, st domain.Stage, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "create checkpoint dir for %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "create temp for %s", path)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	w.UseCRLF = true
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		return perr.Wrapf(err, perr.ErrorCodeIO, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "rename into %s", path)
	}

	s.met.CheckpointRows(string(st), "write", len(rows))
	logger.C(ctx).Debug().Str("path", path).Int("rows", len(rows)).Msg("checkpoint written")
	return nil
}

// read returns every record and whether the file holds ids only
func (s *Store) read(ctx context.Context, path string, st domain.Stage) ([][]string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, perr.WithField(perr.NotFoundf("checkpoint %s does not exist", path), path)
	}
	if err != nil {
		return nil, false, perr.Wrapf(err, perr.ErrorCodeIO, "open %s", path)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	var (
		rows    [][]string
		idsOnly = true
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, perr.Wrapf(err, perr.ErrorCodeIO, "parse %s", path)
		}
		if len(rec) != 1 {
			idsOnly = false
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		idsOnly = false
	}

	s.met.CheckpointRows(string(st), "read", len(rows))
	logger.C(ctx).Debug().Str("path", path).Int("rows", len(rows)).Bool("ids_only", idsOnly).Msg("checkpoint read")
	return rows, idsOnly, nil
}

// flattenCR folds carriage returns the csv reader would drop from quoted fields
func flattenCR(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}

func shortRow(path string, i, got, want int) error {
	return perr.Newf(perr.ErrorCodeIO, "%s row %d has %d columns, want %d", path, i+1, got, want)
}

func badRow(err error, path string, i int) error {
	return perr.Wrapf(err, perr.ErrorCodeIO, "%s row %d", path, i+1)
}
