package target

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconcilerTx(t *testing.T) (*Reconciler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return NewReconciler(tx), mock
}

func TestEnsureTargetCreatesTable(t *testing.T) {
	r, mock := newReconcilerTx(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "public"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("public", "survey_data").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(
		`CREATE TABLE "public"."survey_data" ("id" TEXT PRIMARY KEY, "name" TEXT)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.EnsureTarget(context.Background(), "public", "survey_data",
		[]string{"id", "name"}, "id", true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTargetAddsMissingColumns(t *testing.T) {
	r, mock := newReconcilerTx(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "public"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("public", "survey_data").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT column_name").
		WithArgs("public", "survey_data").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("id"))
	mock.ExpectExec(regexp.QuoteMeta(
		`ALTER TABLE "public"."survey_data" ADD COLUMN "age" TEXT`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.EnsureTarget(context.Background(), "public", "survey_data",
		[]string{"age", "id"}, "", true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTargetMissingTableNotCreatable(t *testing.T) {
	r, mock := newReconcilerTx(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA IF NOT EXISTS "public"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("public", "survey_data").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := r.EnsureTarget(context.Background(), "public", "survey_data",
		[]string{"id"}, "", false)
	var notReady *TargetNotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, "public", notReady.Schema)
	assert.Equal(t, "survey_data", notReady.Table)
}

func TestEnsureTargetNoColumnsIsNoop(t *testing.T) {
	r, mock := newReconcilerTx(t)

	err := r.EnsureTarget(context.Background(), "public", "survey_data", nil, "", true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
