package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	perr "miping/internal/platform/errors"
	"miping/internal/platform/store"
	"miping/internal/services/sampler/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type stmt struct {
	sql  string
	args []any
}

type okTag struct{}

func (okTag) String() string      { return "INSERT 0 1" }
func (okTag) RowsAffected() int64 { return 1 }

type recQ struct {
	stmts  []stmt
	failOn string
}

func (r *recQ) Exec(_ context.Context, sql string, args ...any) (store.CommandTag, error) {
	r.stmts = append(r.stmts, stmt{sql, args})
	if r.failOn != "" && strings.Contains(sql, r.failOn) {
		return nil, perr.DBf("failed %s", r.failOn)
	}
	return okTag{}, nil
}
func (r *recQ) Query(context.Context, string, ...any) (store.Rows, error) { return nil, nil }
func (r *recQ) QueryRow(context.Context, string, ...any) store.Row        { return nil }

type recTx struct {
	recQ
	txs, rolledBack int
}

func (r *recTx) Tx(_ context.Context, fn func(store.RowQuerier) error) error {
	r.txs++
	if err := fn(&r.recQ); err != nil {
		r.rolledBack++
		return err
	}
	return nil
}

func (r *recTx) matching(sub string) []stmt {
	var out []stmt
	for _, s := range r.stmts {
		if strings.Contains(s.sql, sub) {
			out = append(out, s)
		}
	}
	return out
}

func corpus(users, postsPerUser int) domain.Corpus {
	c := domain.Corpus{
		Region:   domain.Region{Name: "New Zealand", Country: "New Zealand", Lang: "en"},
		Seed:     domain.VerifyReport{Quota: 2, Verified: 2},
		Expanded: domain.VerifyReport{Quota: 5, Verified: 3, Shortfall: true},
	}
	for i := range users {
		id := fmt.Sprintf("u%d", i)
		c.Users = append(c.Users, domain.Candidate{ID: id, ScreenName: "n" + id, Followers: 10, Statuses: 20})
		for j := range postsPerUser {
			c.Posts = append(c.Posts, domain.Post{
				ID: fmt.Sprintf("%s-%d", id, j), AuthorID: id, Lang: "en", Text: "kia ora",
				Extra: domain.Extras{Source: "web", LikeCount: j},
			})
		}
	}
	return c
}

func TestSink_SaveCorpus(t *testing.T) {
	t.Parallel()

	tx := &recTx{}
	extras, err := domain.ResolveExtras([]string{"source", "like_count"})
	if err != nil {
		t.Fatalf("ResolveExtras: %v", err)
	}
	sink := NewSink(tx, nil, extras, 0)
	runID := uuid.NewString()

	if err := sink.SaveCorpus(context.Background(), runID, corpus(3, 2)); err != nil {
		t.Fatalf("SaveCorpus: %v", err)
	}
	if tx.txs != 1 || tx.rolledBack != 0 {
		t.Fatalf("txs=%d rolled back=%d", tx.txs, tx.rolledBack)
	}
	if n := len(tx.matching("CREATE TABLE IF NOT EXISTS")); n != 3 {
		t.Fatalf("schema statements %d want 3", n)
	}

	runs := tx.matching("INSERT INTO miping_runs")
	if len(runs) != 1 {
		t.Fatalf("run inserts %d", len(runs))
	}
	if region := runs[0].args[1]; region != "new_zealand" {
		t.Fatalf("region %v", region)
	}
	if shortfall := runs[0].args[8]; shortfall != true {
		t.Fatalf("shortfall %v", shortfall)
	}

	users := tx.matching("INSERT INTO miping_users")
	if len(users) != 1 || len(users[0].args) != 3*7 {
		t.Fatalf("user inserts %+v", users)
	}
	posts := tx.matching("INSERT INTO miping_posts")
	if len(posts) != 1 || len(posts[0].args) != 6*8 {
		t.Fatalf("post inserts %d", len(posts))
	}
	if extra := posts[0].args[7]; extra != `{"like_count":"0","source":"web"}` {
		t.Fatalf("extra json %v", extra)
	}
	if created := posts[0].args[4].(*time.Time); created != nil {
		t.Fatalf("zero created_at must be stored as NULL")
	}

	// schema is ensured once per sink
	if err := sink.SaveCorpus(context.Background(), runID, corpus(1, 1)); err != nil {
		t.Fatalf("second SaveCorpus: %v", err)
	}
	if n := len(tx.matching("CREATE TABLE IF NOT EXISTS")); n != 3 {
		t.Fatalf("schema re-run, statements %d", n)
	}
}

func TestSink_BatchesLargeCorpora(t *testing.T) {
	t.Parallel()

	tx := &recTx{}
	sink := NewSink(tx, nil, nil, 0)
	if err := sink.SaveCorpus(context.Background(), uuid.NewString(), corpus(batchRows+1, 0)); err != nil {
		t.Fatalf("SaveCorpus: %v", err)
	}
	users := tx.matching("INSERT INTO miping_users")
	if len(users) != 2 || len(users[1].args) != 7 {
		t.Fatalf("user batches %d", len(users))
	}
}

func TestSink_Errors(t *testing.T) {
	t.Parallel()

	sink := NewSink(&recTx{}, nil, nil, 0)
	if err := sink.SaveCorpus(context.Background(), "not-a-uuid", corpus(1, 1)); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("want invalid argument, got %v", err)
	}

	tx := &recTx{recQ: recQ{failOn: "INSERT INTO miping_posts"}}
	sink = NewSink(tx, nil, nil, 0)
	err := sink.SaveCorpus(context.Background(), uuid.NewString(), corpus(1, 1))
	if !perr.IsCode(err, perr.ErrorCodeDB) {
		t.Fatalf("want db error, got %v", err)
	}
	if tx.rolledBack != 1 {
		t.Fatalf("transaction not rolled back")
	}
}

// conflictTx fails the first n transactions with a postgres error of code
type conflictTx struct {
	recTx
	n    int
	code string
}

func (c *conflictTx) Tx(ctx context.Context, fn func(store.RowQuerier) error) error {
	if c.n > 0 {
		c.n--
		c.txs++
		return perr.FromPostgres(&pgconn.PgError{Code: c.code, Message: "conflict"}, "commit")
	}
	return c.recTx.Tx(ctx, fn)
}

func TestSink_RetriesConflicts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    string
		fails   int
		wantTxs int
		wantErr bool
	}{
		{name: "serialization failure", code: "40001", fails: 2, wantTxs: 3},
		{name: "deadlock gives up", code: "40P01", fails: 5, wantTxs: 3, wantErr: true},
		{name: "constraint is final", code: "23514", fails: 1, wantTxs: 1, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tx := &conflictTx{n: tc.fails, code: tc.code}
			sink := NewSink(tx, nil, nil, 0)
			sink.backoff = 0
			err := sink.SaveCorpus(context.Background(), uuid.NewString(), corpus(1, 1))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err %v", err)
			}
			if tx.txs != tc.wantTxs {
				t.Fatalf("transactions %d want %d", tx.txs, tc.wantTxs)
			}
			if !tc.wantErr && len(tx.matching("INSERT INTO miping_posts")) != 1 {
				t.Fatalf("posts not written after retry")
			}
		})
	}
}

func TestSink_StatementTimeoutHook(t *testing.T) {
	t.Parallel()

	tx := &recTx{}
	sink := NewSink(tx, nil, nil, 2*time.Second)
	if err := sink.SaveCorpus(context.Background(), uuid.NewString(), corpus(1, 0)); err != nil {
		t.Fatalf("SaveCorpus: %v", err)
	}
	if first := tx.stmts[0].sql; first != "SET LOCAL statement_timeout = 2000" {
		t.Fatalf("first statement %q", first)
	}
}

func TestBatches(t *testing.T) {
	t.Parallel()

	var sizes []int
	for b := range batches(make([]int, 2*batchRows+3)) {
		sizes = append(sizes, len(b))
	}
	if len(sizes) != 3 || sizes[2] != 3 {
		t.Fatalf("sizes %v", sizes)
	}
	for range batches([]int(nil)) {
		t.Fatalf("nil input yielded")
	}
}
