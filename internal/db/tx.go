package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
)

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// InTx runs fn with queries bound to a new transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func InTx(ctx context.Context, db TxBeginner, fn func(*dbgen.Queries) error) error {
	return pgx.BeginTxFunc(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(dbgen.New(tx))
	})
}
