package dbexec_test

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlmedic/sqlmedic/internal/dbexec"
)

var logger *slog.Logger

func TestMain(m *testing.M) {
	flag.Parse()
	verbose := false
	if vFlag := flag.Lookup("test.v"); vFlag != nil && vFlag.Value.String() == "true" {
		verbose = true
	}
	if verbose {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC3339,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	os.Exit(m.Run())
}

func newExecutor(t *testing.T, maxRows int) (*dbexec.Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	exec, err := dbexec.New(dbexec.Config{Logger: logger, DB: db, MaxRows: maxRows})
	require.NoError(t, err)
	return exec, mock
}

func TestNewRequiresLoggerAndDB(t *testing.T) {
	_, err := dbexec.New(dbexec.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")

	_, err = dbexec.New(dbexec.Config{Logger: logger})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is required")
}

func TestExecuteReturnsRows(t *testing.T) {
	exec, mock := newExecutor(t, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT first_name FROM Patients")).
		WillReturnRows(sqlmock.NewRows([]string{"first_name"}).
			AddRow("Ada").
			AddRow([]byte("Grace")))
	mock.ExpectRollback()

	res := exec.Execute(context.Background(), "SELECT first_name FROM Patients")
	require.False(t, res.Failed(), "unexpected error: %s", res.Error)
	assert.Equal(t, []string{"first_name"}, res.Columns)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "Ada", res.Rows[0]["first_name"])
	assert.Equal(t, "Grace", res.Rows[1]["first_name"], "byte slices are normalized to strings")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteCapturesDatabaseErrorInResult(t *testing.T) {
	exec, mock := newExecutor(t, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nope FROM Patients")).
		WillReturnError(errors.New(`column "nope" does not exist`))
	mock.ExpectRollback()

	res := exec.Execute(context.Background(), "SELECT nope FROM Patients")
	require.True(t, res.Failed())
	assert.Contains(t, res.Error, "nope")
	assert.Empty(t, res.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteZeroRowsIsNotAnError(t *testing.T) {
	exec, mock := newExecutor(t, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM Patients WHERE 1 = 0")).
		WillReturnRows(sqlmock.NewRows([]string{"patient_id"}))
	mock.ExpectRollback()

	res := exec.Execute(context.Background(), "SELECT * FROM Patients WHERE 1 = 0")
	require.False(t, res.Failed())
	assert.Equal(t, 0, res.Count)
	assert.Empty(t, res.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTruncatesAtRowCap(t *testing.T) {
	exec, mock := newExecutor(t, 2)

	rows := sqlmock.NewRows([]string{"n"}).AddRow(1).AddRow(2).AddRow(3)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT n FROM Billing")).WillReturnRows(rows)
	mock.ExpectRollback()

	res := exec.Execute(context.Background(), "SELECT n FROM Billing")
	require.False(t, res.Failed())
	assert.Equal(t, 2, res.Count)
	assert.True(t, res.Truncated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteFallsBackWhenReadOnlyUnsupported(t *testing.T) {
	exec, mock := newExecutor(t, 0)

	mock.ExpectBegin().WillReturnError(errors.New("sql: driver does not support read-only transactions"))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	res := exec.Execute(context.Background(), "SELECT 1")
	require.False(t, res.Failed(), "unexpected error: %s", res.Error)
	assert.Equal(t, 1, res.Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	exec, _ := newExecutor(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := exec.Execute(ctx, "SELECT 1")
	require.True(t, res.Failed())
	assert.Contains(t, res.Error, "context canceled")
}
