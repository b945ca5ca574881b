package store

import (
	"context"
	"fmt"

	perr "miping/internal/platform/errors"
)

// ExecOne runs a write and fails unless exactly one row changed
func ExecOne(ctx context.Context, q RowQuerier, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n != 1 {
		return perr.DBf("expected one row affected, got %d", n)
	}
	return nil
}

// ExecCount runs a write and returns the affected row count
func ExecCount(ctx context.Context, q RowQuerier, sql string, args ...any) (int64, error) {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Scalar scans the first column of the first row into T
func Scalar[T any](ctx context.Context, q RowQuerier, sql string, args ...any) (T, error) {
	var v T
	err := q.QueryRow(ctx, sql, args...).Scan(&v)
	return v, err
}

// Many maps every row with scan
func Many[T any](ctx context.Context, q RowQuerier, scan func(Row) (T, error), sql string, args ...any) ([]T, error) {
	rs, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []T
	for rs.Next() {
		item, err := scan(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rs.Err()
}

// Placeholders renders "($1,$2),($3,$4)" for rows of width columns starting at $1
func Placeholders(rows, width int) string {
	if rows <= 0 || width <= 0 {
		return ""
	}
	buf := make([]byte, 0, rows*width*5)
	n := 1
	for r := range rows {
		if r > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '(')
		for c := range width {
			if c > 0 {
				buf = append(buf, ',')
			}
			buf = fmt.Appendf(buf, "$%d", n)
			n++
		}
		buf = append(buf, ')')
	}
	return string(buf)
}
