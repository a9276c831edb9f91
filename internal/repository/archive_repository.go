package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/survey-archive-api/internal/models"
)

var (
	// ErrUnsupportedSortKey is returned when a listing asks to sort by an unknown field.
	ErrUnsupportedSortKey = errors.New("unsupported sort key")
	// ErrAlreadyRestoring is returned when the restore guard of an archive is already held.
	ErrAlreadyRestoring = errors.New("archive is already being restored")
	// ErrActiveArchiveExists is returned by AddIfNoneActive when the survey already has an
	// archive that is running or holds its files.
	ErrActiveArchiveExists = errors.New("survey already has an active archive")
)

const archiveColumns = `id, survey_uid, survey_title, survey_shortname, owner, languages, user_id, replies,
       survey_has_uploaded_files, created, archived, finished, restoring, restoring_since, error`

const defaultArchiveRows = 10

// archiveSortColumns accepts both Archive field names and column names.
var archiveSortColumns = map[string]string{
	"id":               "id",
	"surveyuid":        "survey_uid",
	"survey_uid":       "survey_uid",
	"surveytitle":      "survey_title",
	"survey_title":     "survey_title",
	"surveyshortname":  "survey_shortname",
	"survey_shortname": "survey_shortname",
	"owner":            "owner",
	"languages":        "languages",
	"userid":           "user_id",
	"user_id":          "user_id",
	"replies":          "replies",
	"created":          "created",
	"archived":         "archived",
	"finished":         "finished",
}

// ArchiveRepository persists archive metadata records.
type ArchiveRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewArchiveRepository constructs the repository.
func NewArchiveRepository(db *sqlx.DB, logger *zap.Logger) *ArchiveRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveRepository{db: db, logger: logger}
}

// Add inserts a new archive (ID == 0) or updates an existing one.
func (r *ArchiveRepository) Add(ctx context.Context, archive *models.Archive) error {
	if archive.ID != 0 {
		return r.Update(ctx, archive)
	}
	return inTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		return insertArchive(ctx, tx, archive)
	})
}

// AddIfNoneActive inserts archive unless another archive of the same survey is unfinished or
// finished without error. Check and insert share one transaction holding an advisory lock on
// the shortname, so concurrent callers for one survey are serialized.
func (r *ArchiveRepository) AddIfNoneActive(ctx context.Context, archive *models.Archive) error {
	const lock = `SELECT pg_advisory_xact_lock(hashtext($1))`
	const exists = `SELECT EXISTS (SELECT 1 FROM archives WHERE error IS NULL
	AND (survey_uid = $1 OR (survey_shortname = $2 AND finished = FALSE)))`
	return inTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, lock, "archive:"+archive.SurveyShortname); err != nil {
			return fmt.Errorf("lock archive shortname: %w", err)
		}
		var taken bool
		if err := tx.GetContext(ctx, &taken, exists, archive.SurveyUID, archive.SurveyShortname); err != nil {
			return fmt.Errorf("check active archive: %w", err)
		}
		if taken {
			return ErrActiveArchiveExists
		}
		return insertArchive(ctx, tx, archive)
	})
}

func insertArchive(ctx context.Context, tx *sqlx.Tx, archive *models.Archive) error {
	const query = `INSERT INTO archives
	(survey_uid, survey_title, survey_shortname, owner, languages, user_id, replies, survey_has_uploaded_files,
	 created, archived, finished, restoring, restoring_since, error)
	VALUES (:survey_uid, :survey_title, :survey_shortname, :owner, :languages, :user_id, :replies, :survey_has_uploaded_files,
	 :created, :archived, :finished, :restoring, :restoring_since, :error)
	RETURNING id`
	bound, args, err := tx.BindNamed(query, archive)
	if err != nil {
		return fmt.Errorf("bind archive insert: %w", err)
	}
	var id int64
	if err := tx.QueryRowxContext(ctx, bound, args...).Scan(&id); err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	archive.ID = id
	return nil
}

// Update writes every field of archive keyed by id. The value may come from an earlier request.
func (r *ArchiveRepository) Update(ctx context.Context, archive *models.Archive) error {
	const query = `UPDATE archives SET survey_uid = :survey_uid, survey_title = :survey_title,
	survey_shortname = :survey_shortname, owner = :owner, languages = :languages, user_id = :user_id,
	replies = :replies, survey_has_uploaded_files = :survey_has_uploaded_files, created = :created,
	archived = :archived, finished = :finished, restoring = :restoring, restoring_since = :restoring_since,
	error = :error
	WHERE id = :id`
	return inTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, query, archive)
		if err != nil {
			return fmt.Errorf("update archive: %w", err)
		}
		return requireAffected(res, "update archive")
	})
}

// Delete removes the archive row. Files are left to the caller.
func (r *ArchiveRepository) Delete(ctx context.Context, archive *models.Archive) error {
	const query = `DELETE FROM archives WHERE id = $1`
	return inTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, archive.ID)
		if err != nil {
			return fmt.Errorf("delete archive: %w", err)
		}
		return requireAffected(res, "delete archive")
	})
}

// Get returns the archive with id, or nil when none exists.
func (r *ArchiveRepository) Get(ctx context.Context, id int64) (*models.Archive, error) {
	query := `SELECT ` + archiveColumns + ` FROM archives WHERE id = $1`
	var archive models.Archive
	err := inTx(ctx, r.db, readOnlyTx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &archive, query, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get archive: %w", err)
	}
	return &archive, nil
}

// GetAllArchives returns one page of archives matching filter. Failed archives are only
// included when includingErrors is set. Pages are 1-based.
func (r *ArchiveRepository) GetAllArchives(ctx context.Context, filter models.ArchiveFilter, page, rowsPerPage int, includingErrors bool) ([]models.Archive, error) {
	conditions := make([]string, 0, 10)
	args := make([]interface{}, 0, 10)
	if !includingErrors {
		conditions = append(conditions, "error IS NULL")
	}
	like := func(column, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		args = append(args, "%"+value+"%")
		conditions = append(conditions, fmt.Sprintf("%s LIKE $%d", column, len(args)))
	}
	from := func(column string, value *time.Time) {
		if value == nil {
			return
		}
		args = append(args, *value)
		conditions = append(conditions, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	until := func(column string, value *time.Time) {
		if value == nil {
			return
		}
		args = append(args, value.AddDate(0, 0, 1))
		conditions = append(conditions, fmt.Sprintf("%s < $%d", column, len(args)))
	}

	like("survey_uid", filter.UniqueID)
	if filter.UserID > 0 {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Finished != nil && *filter.Finished {
		conditions = append(conditions, "finished = TRUE")
	}
	like("survey_shortname", filter.Shortname)
	like("survey_title", filter.Title)
	like("owner", filter.Owner)
	from("created", filter.CreatedFrom)
	until("created", filter.CreatedTo)
	from("archived", filter.ArchivedFrom)
	until("archived", filter.ArchivedTo)

	orderBy, err := archiveOrderBy(filter.SortKey, filter.SortOrder)
	if err != nil {
		return nil, err
	}

	if rowsPerPage <= 0 {
		rowsPerPage = defaultArchiveRows
	}
	offset := 0
	if page > 1 {
		offset = (page - 1) * rowsPerPage
	}

	var builder strings.Builder
	builder.WriteString(`SELECT ` + archiveColumns + ` FROM archives`)
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY ")
	builder.WriteString(orderBy)
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", rowsPerPage, offset))

	var archives []models.Archive
	err = inTx(ctx, r.db, readOnlyTx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &archives, builder.String(), args...)
	})
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	return archives, nil
}

// archiveOrderBy resolves a caller supplied sort key through the allow-list. The id
// tiebreaker keeps pages disjoint when the sort column has duplicates.
func archiveOrderBy(sortKey, sortOrder string) (string, error) {
	if strings.TrimSpace(sortKey) == "" {
		return "id ASC", nil
	}
	column, ok := archiveSortColumns[strings.ToLower(strings.TrimSpace(sortKey))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSortKey, sortKey)
	}
	direction := "ASC"
	if strings.EqualFold(strings.TrimSpace(sortOrder), "DESC") {
		direction = "DESC"
	}
	if column == "id" {
		return "id " + direction, nil
	}
	return column + " " + direction + ", id ASC", nil
}

// GetNumberOfArchives counts every archive of a user regardless of state.
func (r *ArchiveRepository) GetNumberOfArchives(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM archives WHERE user_id = $1`
	var count int
	err := inTx(ctx, r.db, readOnlyTx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &count, query, userID)
	})
	if err != nil {
		return 0, fmt.Errorf("count archives: %w", err)
	}
	return count, nil
}

// GetActiveArchive returns the in-progress archive for shortname, or nil. More than one
// in-progress archive breaks an invariant; the lowest id wins and the duplication is logged.
func (r *ArchiveRepository) GetActiveArchive(ctx context.Context, shortname string) (*models.Archive, error) {
	query := `SELECT ` + archiveColumns + ` FROM archives
	WHERE survey_shortname = $1 AND finished = FALSE AND error IS NULL ORDER BY id ASC`
	archives, err := r.selectArchives(ctx, query, shortname)
	if err != nil {
		return nil, fmt.Errorf("get active archive: %w", err)
	}
	if len(archives) == 0 {
		return nil, nil
	}
	if len(archives) > 1 {
		ids := make([]int64, 0, len(archives))
		for _, a := range archives {
			ids = append(ids, a.ID)
		}
		r.logger.Warn("multiple active archives for shortname", zap.String("shortname", shortname), zap.Int64s("archive_ids", ids))
	}
	return &archives[0], nil
}

// GetArchive returns the finished, error-free archive of a user for shortname, or nil.
func (r *ArchiveRepository) GetArchive(ctx context.Context, userID int64, shortname string) (*models.Archive, error) {
	query := `SELECT ` + archiveColumns + ` FROM archives
	WHERE user_id = $1 AND survey_shortname = $2 AND finished = TRUE AND error IS NULL ORDER BY id ASC LIMIT 1`
	archives, err := r.selectArchives(ctx, query, userID, shortname)
	if err != nil {
		return nil, fmt.Errorf("get user archive: %w", err)
	}
	if len(archives) == 0 {
		return nil, nil
	}
	return &archives[0], nil
}

// GetSurveyUIDForArchivedSurveyShortname returns the survey UID archived under shortname, or "".
func (r *ArchiveRepository) GetSurveyUIDForArchivedSurveyShortname(ctx context.Context, shortname string) (string, error) {
	const query = `SELECT survey_uid FROM archives WHERE survey_shortname = $1 ORDER BY id ASC LIMIT 1`
	var uid string
	err := inTx(ctx, r.db, readOnlyTx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &uid, query, shortname)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get archived survey uid: %w", err)
	}
	return uid, nil
}

// GetArchivesForUser returns every finished, error-free archive of a user.
func (r *ArchiveRepository) GetArchivesForUser(ctx context.Context, userID int64) ([]models.Archive, error) {
	query := `SELECT ` + archiveColumns + ` FROM archives
	WHERE user_id = $1 AND finished = TRUE AND error IS NULL ORDER BY id ASC`
	archives, err := r.selectArchives(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user archives: %w", err)
	}
	return archives, nil
}

// BeginRestore flips restoring false→true in a single conditional update.
func (r *ArchiveRepository) BeginRestore(ctx context.Context, id int64, now time.Time) error {
	const update = `UPDATE archives SET restoring = TRUE, restoring_since = $2 WHERE id = $1 AND restoring = FALSE`
	const lookup = `SELECT id FROM archives WHERE id = $1`
	return inTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, update, id, now)
		if err != nil {
			return fmt.Errorf("begin restore: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check begin restore rows: %w", err)
		}
		if affected > 0 {
			return nil
		}
		var existing int64
		if err := tx.GetContext(ctx, &existing, lookup, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sql.ErrNoRows
			}
			return fmt.Errorf("look up archive: %w", err)
		}
		return ErrAlreadyRestoring
	})
}

// EndRestore clears the restore guard.
func (r *ArchiveRepository) EndRestore(ctx context.Context, id int64) error {
	const query = `UPDATE archives SET restoring = FALSE, restoring_since = NULL WHERE id = $1`
	return inTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, id)
		if err != nil {
			return fmt.Errorf("end restore: %w", err)
		}
		return requireAffected(res, "end restore")
	})
}

// ReleaseStaleRestores clears restore guards acquired before cutoff and returns how many were released.
func (r *ArchiveRepository) ReleaseStaleRestores(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `UPDATE archives SET restoring = FALSE, restoring_since = NULL
	WHERE restoring = TRUE AND (restoring_since IS NULL OR restoring_since < $1)`
	var released int64
	err := inTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, cutoff)
		if err != nil {
			return fmt.Errorf("release stale restores: %w", err)
		}
		released, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check released restores: %w", err)
		}
		return nil
	})
	return released, err
}

func (r *ArchiveRepository) selectArchives(ctx context.Context, query string, args ...interface{}) ([]models.Archive, error) {
	var archives []models.Archive
	err := inTx(ctx, r.db, readOnlyTx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &archives, query, args...)
	})
	return archives, err
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
