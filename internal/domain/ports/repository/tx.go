package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an open transaction handle; nil means "no transaction".
// The concrete type is owned by the storage adapter (pgx.Tx for Postgres).
type Tx interface{}

// TransactionManager executes fn inside a database transaction. The
// transaction is rolled back when fn returns an error.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
