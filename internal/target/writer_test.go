package target

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveysync/surveysync-api/internal/models"
)

func newTestTx(t *testing.T) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return NewWriter(tx), mock
}

func TestWriteAppend(t *testing.T) {
	w, mock := newTestTx(t)

	prep := mock.ExpectPrepare(regexp.QuoteMeta(
		`INSERT INTO "public"."survey_data" ("age", "id") VALUES ($1, $2)`))
	prep.ExpectExec().WithArgs("31", "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(nil, "r2").WillReturnResult(sqlmock.NewResult(0, 1))

	rows := []Row{
		{"id": "r1", "age": float64(31)},
		{"id": "r2"},
	}
	inserted, updated, err := w.Write(context.Background(), "public", "survey_data",
		[]string{"age", "id"}, rows, models.ModeAppend, "")
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 0, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteReplaceClearsTableFirst(t *testing.T) {
	w, mock := newTestTx(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."survey_data"`)).
		WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(
		`INSERT INTO "public"."survey_data" ("id") VALUES ($1)`))
	prep.ExpectExec().WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, updated, err := w.Write(context.Background(), "public", "survey_data",
		[]string{"id"}, []Row{{"id": "r1"}}, models.ModeReplace, "")
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 0, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteUpsertAttribution(t *testing.T) {
	w, mock := newTestTx(t)

	// "b" already exists in the table; "b" also appears twice in the batch.
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "id" FROM "public"."survey_data" WHERE "id" = ANY($1)`)).
		WithArgs(pq.Array([]string{"a", "b", "b"})).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("b"))

	prep := mock.ExpectPrepare(regexp.QuoteMeta(
		`INSERT INTO "public"."survey_data" ("id", "name") VALUES ($1, $2) ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`))
	prep.ExpectExec().WithArgs("a", "first").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("b", "second").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("b", "third").WillReturnResult(sqlmock.NewResult(0, 1))

	rows := []Row{
		{"id": "a", "name": "first"},
		{"id": "b", "name": "second"},
		{"id": "b", "name": "third"},
	}
	inserted, updated, err := w.Write(context.Background(), "public", "survey_data",
		[]string{"id", "name"}, rows, models.ModeUpsert, "id")
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 2, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteEmptyBatchIsNoop(t *testing.T) {
	w, mock := newTestTx(t)

	inserted, updated, err := w.Write(context.Background(), "public", "survey_data",
		[]string{"id"}, nil, models.ModeAppend, "")
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Zero(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteUnknownMode(t *testing.T) {
	w, _ := newTestTx(t)

	_, _, err := w.Write(context.Background(), "public", "t",
		[]string{"id"}, []Row{{"id": "r1"}}, models.SyncMode("merge"), "")
	assert.Error(t, err)
}

func TestInsertStatement(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "s"."t" ("a", "b") VALUES ($1, $2)`,
		insertStatement(`"s"."t"`, []string{"a", "b"}, ""))

	assert.Equal(t,
		`INSERT INTO "s"."t" ("a", "b") VALUES ($1, $2) ON CONFLICT ("a") DO UPDATE SET "b" = EXCLUDED."b"`,
		insertStatement(`"s"."t"`, []string{"a", "b"}, "a"))

	// Only the conflict column itself: nothing to update.
	assert.Equal(t,
		`INSERT INTO "s"."t" ("a") VALUES ($1) ON CONFLICT ("a") DO NOTHING`,
		insertStatement(`"s"."t"`, []string{"a"}, "a"))
}

func TestEncodeValue(t *testing.T) {
	assert.Nil(t, EncodeValue(nil))
	assert.Equal(t, "hello", EncodeValue("hello"))
	assert.Equal(t, "42", EncodeValue(float64(42)))
	assert.Equal(t, "3.14", EncodeValue(float64(3.14)))
	assert.Equal(t, "true", EncodeValue(true))
	assert.Equal(t, `{"lat":"1.5"}`, EncodeValue(map[string]interface{}{"lat": "1.5"}))
	assert.Equal(t, `["a","b"]`, EncodeValue([]interface{}{"a", "b"}))
	assert.Equal(t, "7", EncodeValue(7))
}
