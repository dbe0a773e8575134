package migrate

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"bugtracker.org/migrations"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/0001_accounts.up.sql":   {Data: []byte("create table a (id int);\ncreate table b (id int);\n")},
		"sql/0001_accounts.down.sql": {Data: []byte("drop table b;\ndrop table a;\n")},
		"sql/0002_fill.up.sql":       {Data: []byte("-- fill a\ninsert into a values (1);\n")},
		"sql/0002_fill.down.sql":     {Data: []byte("delete from a;\n")},
		"seeds/0001_rows.sql":        {Data: []byte("insert into b values (2);\n")},
	}
}

func newManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	m := NewManager(db, testFS(), "sql", "seeds",
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return fixedNow }))
	return m, mock
}

func expectEnsure(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesOnlyPendingInOrder(t *testing.T) {
	m, mock := newManager(t)

	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_accounts.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("insert into a values (1)")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_fill.up.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := m.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_fill.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpRollsBackFailedFile(t *testing.T) {
	m, mock := newManager(t)

	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table a (id int)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create table b (id int)")).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	applied, err := m.Up(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "0001_accounts.up.sql")
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRevertsLatest(t *testing.T) {
	m, mock := newManager(t)

	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("0001_accounts.up.sql").
			AddRow("0002_fill.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("delete from a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("delete from schema_migrations where name = $1")).
		WithArgs("0002_fill.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := m.Down(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0002_fill.up.sql", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithNothingApplied(t *testing.T) {
	m, mock := newManager(t)

	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err := m.Down(context.Background())
	require.ErrorIs(t, err, ErrNothingApplied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingSkipsDownFiles(t *testing.T) {
	m, mock := newManager(t)

	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	pending, err := m.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_accounts.up.sql", "0002_fill.up.sql"}, pending)
}

func TestSeedFromEmbeddedFiles(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	m := NewManager(db, migrations.FS, migrations.SQLDir, migrations.SeedsDir)

	expectEnsure(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into roles").WillReturnResult(sqlmock.NewResult(5, 5))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_seeds").
		WithArgs("0001_roles.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := m.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_roles.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedSchemaStatements(t *testing.T) {
	m := NewManager(nil, migrations.FS, migrations.SQLDir, migrations.SeedsDir)
	files, err := m.collectSQL(migrations.SQLDir, upSuffix)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	data, err := migrations.FS.ReadFile(files[0].Path)
	require.NoError(t, err)
	for _, stmt := range splitStatements(string(data)) {
		assert.True(t, strings.HasPrefix(stmt, "create"), stmt)
	}
}

func TestSplitStatements(t *testing.T) {
	in := "-- header\ninsert into t values ('a;b');\n\nselect 1;\nselect 2"
	got := splitStatements(in)
	assert.Equal(t, []string{"insert into t values ('a;b')", "select 1", "select 2"}, got)
}
