package sql_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dbconfig "github.com/tigerroll/importd/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/importd/pkg/batch/adapter/database/gorm/mysql"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	sqlrepo "github.com/tigerroll/importd/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/test"
)

func newMockConn(t *testing.T) (*gormadapter.GormDBAdapter, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(gdb, dbconfig.DatabaseConfig{Type: "mysql"}, "mock")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn, mock
}

func TestCreateMapsDriverErrorsToDatabaseKind(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := sqlrepo.NewSQLJobRepository(conn, gormadapter.NewGormTransactionManager(conn))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `jobs`").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), test.NewImportJob("f.csv", nil))
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindDatabase))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindStatusQueryError(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := sqlrepo.NewSQLJobRepository(conn, gormadapter.NewGormTransactionManager(conn))

	mock.ExpectQuery("SELECT `status` FROM `jobs`").WillReturnError(errors.New("connection refused"))

	_, err := repo.FindStatus(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindDatabase))
	assert.True(t, exception.IsTemporary(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailRollsBackWhenTransitionMisses(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := sqlrepo.NewSQLJobRepository(conn, gormadapter.NewGormTransactionManager(conn))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `jobs` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT `status` FROM `jobs`").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	err := repo.Fail(context.Background(), "job-1", model.NewErrorEntry("boom"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrInvalidTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDuplicateKeyIsErrDuplicate(t *testing.T) {
	conn, mock := newMockConn(t)
	repo := sqlrepo.NewSQLCatalogRepository(conn)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `brands`").WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'Acme'"})
	mock.ExpectRollback()

	_, err := repo.CreateEntity(context.Background(), nil, model.NewEntity{Kind: model.EntityBrand, Name: "Acme"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrDuplicate))
	assert.NoError(t, mock.ExpectationsWereMet())
}
