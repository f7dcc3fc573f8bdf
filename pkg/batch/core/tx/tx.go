// Package tx provides an abstraction for transaction management.
// Batch commits, per-row savepoints and job state writes all run through these ports,
// so the pipeline does not depend on a specific database backend.
package tx

import (
	"context"
	"database/sql"
)

// Tx represents an ongoing database transaction.
type Tx interface {
	// Savepoint creates a new savepoint within the current transaction.
	Savepoint(name string) error
	// RollbackToSavepoint undoes changes made after the named savepoint.
	RollbackToSavepoint(name string) error
}

// TransactionManager manages the lifecycle of database transactions.
type TransactionManager interface {
	// Begin starts a new database transaction.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit commits the specified transaction.
	Commit(tx Tx) error
	// Rollback rolls back the specified transaction.
	Rollback(tx Tx) error
}

// Run executes fn inside a transaction, committing on success and rolling back on error or panic.
func Run(ctx context.Context, tm TransactionManager, fn func(tx Tx) error) (err error) {
	t, err := tm.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tm.Rollback(t)
			panic(p)
		}
	}()
	if err = fn(t); err != nil {
		_ = tm.Rollback(t)
		return err
	}
	return tm.Commit(t)
}

// WithSavepoint runs fn under a savepoint of tx. If fn fails, the transaction is rolled back
// to the savepoint and the error is returned; the enclosing transaction stays usable.
func WithSavepoint(t Tx, name string, fn func() error) error {
	if err := t.Savepoint(name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rbErr := t.RollbackToSavepoint(name); rbErr != nil {
			return rbErr
		}
		return err
	}
	return nil
}
