// Package repokit provides the seams repositories are written against
package repokit

import (
	"context"

	"miping/internal/platform/store"
)

// Queryer is the statement surface repos use
type Queryer = store.RowQuerier

// TxRunner runs a function inside a transaction
type TxRunner = store.TxRunner

type (
	// Rows are the result set of a query
	Rows = store.Rows

	// Row is a single row result
	Row = store.Row

	// CommandTag is the result of a write
	CommandTag = store.CommandTag
)

// Binder binds a repo to a Queryer, typically the one of an open transaction
type Binder[T any] interface {
	Bind(Queryer) T
}

// BindFunc adapts a function to Binder
type BindFunc[T any] func(Queryer) T

// Bind calls f
func (f BindFunc[T]) Bind(q Queryer) T { return f(q) }

// InTx runs fn with a repo bound to a new transaction on tx
func InTx[T any](ctx context.Context, tx TxRunner, b Binder[T], fn func(repo T) error) error {
	if tx == nil {
		panic("repokit: nil TxRunner")
	}
	return tx.Tx(ctx, func(q Queryer) error { return fn(b.Bind(q)) })
}
