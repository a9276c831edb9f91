package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/survey-archive-api/internal/models"
)

var archiveRowColumns = []string{"id", "survey_uid", "survey_title", "survey_shortname", "owner", "languages", "user_id", "replies",
	"survey_has_uploaded_files", "created", "archived", "finished", "restoring", "restoring_since", "error"}

func newArchiveRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func archiveRow(rows *sqlmock.Rows, id int64, uid, shortname string, finished bool) *sqlmock.Rows {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return rows.AddRow(id, uid, "Customer feedback", shortname, "Jane Doe", "en,de", int64(7), 12,
		false, now, now, finished, false, nil, nil)
}

func TestArchiveRepositoryAddInsertsAndAssignsID(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO archives")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))
	mock.ExpectCommit()

	archive := &models.Archive{SurveyUID: "uid-1", SurveyShortname: "feedback", UserID: 7, Created: time.Now(), Archived: time.Now()}
	require.NoError(t, repo.Add(context.Background(), archive))
	assert.EqualValues(t, 41, archive.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryAddIfNoneActiveInsertsUnderLock(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("archive:feedback").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM archives WHERE error IS NULL")).
		WithArgs("uid-1", "feedback").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO archives")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	archive := &models.Archive{SurveyUID: "uid-1", SurveyShortname: "feedback", UserID: 7, Created: time.Now(), Archived: time.Now()}
	require.NoError(t, repo.AddIfNoneActive(context.Background(), archive))
	assert.EqualValues(t, 42, archive.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryAddIfNoneActiveRejectsAndRollsBack(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs("archive:feedback").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("survey_uid = $1 OR (survey_shortname = $2 AND finished = FALSE)")).
		WithArgs("uid-1", "feedback").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	archive := &models.Archive{SurveyUID: "uid-1", SurveyShortname: "feedback"}
	err := repo.AddIfNoneActive(context.Background(), archive)
	require.ErrorIs(t, err, ErrActiveArchiveExists)
	assert.Zero(t, archive.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryAddWithIDUpdates(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE archives SET survey_uid")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Add(context.Background(), &models.Archive{ID: 3, SurveyUID: "uid-1", Finished: true}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryUpdateMissingRowRollsBack(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE archives SET survey_uid")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), &models.Archive{ID: 99})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryGet(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM archives WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(archiveRow(sqlmock.NewRows(archiveRowColumns), 5, "uid-5", "feedback", true))
	mock.ExpectCommit()

	archive, err := repo.Get(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, archive)
	assert.Equal(t, "uid-5", archive.SurveyUID)
	assert.Equal(t, "en,de", archive.Languages)
	assert.Nil(t, archive.Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryGetMissingReturnsNil(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM archives WHERE id = $1")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(archiveRowColumns))
	mock.ExpectRollback()

	archive, err := repo.Get(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, archive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM archives WHERE id = $1")).
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), &models.Archive{ID: 8}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryGetAllArchivesFilters(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	finished := true
	createdTo := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	filter := models.ArchiveFilter{
		UserID:    7,
		Finished:  &finished,
		Shortname: "feed",
		CreatedTo: &createdTo,
		SortKey:   "surveyTitle",
		SortOrder: "desc",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM archives WHERE error IS NULL AND user_id = $1 AND finished = TRUE AND survey_shortname LIKE $2 AND created < $3 ORDER BY survey_title DESC, id ASC LIMIT 20 OFFSET 40")).
		WithArgs(int64(7), "%feed%", createdTo.AddDate(0, 0, 1)).
		WillReturnRows(archiveRow(sqlmock.NewRows(archiveRowColumns), 1, "uid-1", "feedback", true))
	mock.ExpectCommit()

	archives, err := repo.GetAllArchives(context.Background(), filter, 3, 20, false)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryGetAllArchivesDefaults(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	unfinished := false

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, survey_uid") + `[\s\S]*FROM archives ORDER BY id ASC LIMIT 10 OFFSET 0$`).
		WillReturnRows(sqlmock.NewRows(archiveRowColumns))
	mock.ExpectCommit()

	archives, err := repo.GetAllArchives(context.Background(), models.ArchiveFilter{Finished: &unfinished}, 0, 0, true)
	require.NoError(t, err)
	assert.Empty(t, archives)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryGetAllArchivesRejectsUnknownSortKey(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	_, err := repo.GetAllArchives(context.Background(), models.ArchiveFilter{SortKey: "title; DROP TABLE archives"}, 1, 10, false)
	require.ErrorIs(t, err, ErrUnsupportedSortKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveOrderBy(t *testing.T) {
	cases := []struct {
		key, order, want string
	}{
		{"", "", "id ASC"},
		{"id", "DESC", "id DESC"},
		{"replies", "sideways", "replies ASC, id ASC"},
		{"survey_shortname", "desc", "survey_shortname DESC, id ASC"},
		{"userId", "", "user_id ASC, id ASC"},
	}
	for _, tc := range cases {
		got, err := archiveOrderBy(tc.key, tc.order)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.key)
	}
}

func TestArchiveRepositoryGetNumberOfArchives(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM archives WHERE user_id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectCommit()

	count, err := repo.GetNumberOfArchives(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryGetActiveArchiveWarnsOnDuplicates(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	core, logs := observer.New(zap.WarnLevel)
	repo := NewArchiveRepository(db, zap.New(core))

	rows := sqlmock.NewRows(archiveRowColumns)
	archiveRow(rows, 2, "uid-2", "feedback", false)
	archiveRow(rows, 4, "uid-4", "feedback", false)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("finished = FALSE AND error IS NULL")).
		WithArgs("feedback").
		WillReturnRows(rows)
	mock.ExpectCommit()

	archive, err := repo.GetActiveArchive(context.Background(), "feedback")
	require.NoError(t, err)
	require.NotNil(t, archive)
	assert.EqualValues(t, 2, archive.ID)
	assert.Equal(t, 1, logs.FilterMessage("multiple active archives for shortname").Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryGetArchiveNone(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND survey_shortname = $2 AND finished = TRUE")).
		WithArgs(int64(7), "feedback").
		WillReturnRows(sqlmock.NewRows(archiveRowColumns))
	mock.ExpectCommit()

	archive, err := repo.GetArchive(context.Background(), 7, "feedback")
	require.NoError(t, err)
	assert.Nil(t, archive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryGetSurveyUIDForArchivedSurveyShortname(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT survey_uid FROM archives WHERE survey_shortname = $1")).
		WithArgs("feedback").
		WillReturnRows(sqlmock.NewRows([]string{"survey_uid"}).AddRow("uid-9"))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT survey_uid FROM archives WHERE survey_shortname = $1")).
		WithArgs("unknown").
		WillReturnRows(sqlmock.NewRows([]string{"survey_uid"}))
	mock.ExpectRollback()

	uid, err := repo.GetSurveyUIDForArchivedSurveyShortname(context.Background(), "feedback")
	require.NoError(t, err)
	assert.Equal(t, "uid-9", uid)

	uid, err = repo.GetSurveyUIDForArchivedSurveyShortname(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, uid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryGetArchivesForUser(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	rows := sqlmock.NewRows(archiveRowColumns)
	archiveRow(rows, 1, "uid-1", "one", true)
	archiveRow(rows, 2, "uid-2", "two", true)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND finished = TRUE AND error IS NULL")).
		WithArgs(int64(7)).
		WillReturnRows(rows)
	mock.ExpectCommit()

	archives, err := repo.GetArchivesForUser(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, archives, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryBeginRestoreAcquires(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE archives SET restoring = TRUE, restoring_since = $2 WHERE id = $1 AND restoring = FALSE")).
		WithArgs(int64(5), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.BeginRestore(context.Background(), 5, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryBeginRestoreAlreadyHeld(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE archives SET restoring = TRUE")).
		WithArgs(int64(5), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM archives WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectRollback()

	err := repo.BeginRestore(context.Background(), 5, now)
	require.True(t, errors.Is(err, ErrAlreadyRestoring))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryBeginRestoreMissing(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE archives SET restoring = TRUE")).
		WithArgs(int64(6), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM archives WHERE id = $1")).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.BeginRestore(context.Background(), 6, now)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRepositoryEndRestoreAndReleaseStale(t *testing.T) {
	db, mock, cleanup := newArchiveRepoMock(t)
	defer cleanup()

	repo := NewArchiveRepository(db, nil)
	cutoff := time.Now().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE archives SET restoring = FALSE, restoring_since = NULL WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE restoring = TRUE AND (restoring_since IS NULL OR restoring_since < $1)")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.EndRestore(context.Background(), 5))
	released, err := repo.ReleaseStaleRestores(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, released)
	require.NoError(t, mock.ExpectationsWereMet())
}
