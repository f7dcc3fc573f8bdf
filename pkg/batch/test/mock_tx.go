package test

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	tx "github.com/tigerroll/importd/pkg/batch/core/tx"
)

// MockTx is a testify mock of tx.Tx.
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Savepoint(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

func (m *MockTx) RollbackToSavepoint(name string) error {
	args := m.Called(name)
	return args.Error(0)
}

// NopTx accepts every savepoint call. Tests use it when the repository under the
// transaction is itself a fake.
type NopTx struct{}

func (NopTx) Savepoint(string) error           { return nil }
func (NopTx) RollbackToSavepoint(string) error { return nil }

// MockTxManager is a testify mock of tx.TransactionManager.
type MockTxManager struct {
	mock.Mock
}

// Begin returns the mocked Tx, or an error when the first return value is nil.
func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

func (m *MockTxManager) Commit(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockTxManager) Rollback(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

var (
	_ tx.Tx                 = (*MockTx)(nil)
	_ tx.Tx                 = NopTx{}
	_ tx.TransactionManager = (*MockTxManager)(nil)
)
