package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/importd/pkg/batch/adapter/database"
	"github.com/tigerroll/importd/pkg/batch/core/tx"
)

// GormTxAdapter implements tx.Tx over a GORM transaction session.
type GormTxAdapter struct {
	db *gorm.DB
}

// DB returns the transaction session.
func (t *GormTxAdapter) DB() *gorm.DB {
	return t.db
}

// Savepoint implements tx.Tx.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// TxDB extracts the GORM session behind a tx.Tx started by GormTransactionManager.
func TxDB(t tx.Tx) (*gorm.DB, error) {
	adapter, ok := t.(*GormTxAdapter)
	if !ok {
		return nil, fmt.Errorf("internal error: Tx implementation is %T, not *GormTxAdapter", t)
	}
	return adapter.db, nil
}

// GormTransactionManager implements tx.TransactionManager for one named connection.
type GormTransactionManager struct {
	conn database.DBConnection
}

// NewGormTransactionManager creates a transaction manager bound to conn.
func NewGormTransactionManager(conn database.DBConnection) *GormTransactionManager {
	return &GormTransactionManager{conn: conn}
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	db, err := GormDB(ctx, m.conn)
	if err != nil {
		return nil, err
	}
	txDB := db.Begin(opts...)
	if txDB.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.conn.Name(), txDB.Error)
	}
	return &GormTxAdapter{db: txDB}, nil
}

// Commit implements tx.TransactionManager.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	db, err := TxDB(t)
	if err != nil {
		return err
	}
	return db.Commit().Error
}

// Rollback implements tx.TransactionManager.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	db, err := TxDB(t)
	if err != nil {
		return err
	}
	return db.Rollback().Error
}
