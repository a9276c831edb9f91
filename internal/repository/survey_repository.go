package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/survey-archive-api/internal/models"
)

const surveyColumns = `id, unique_id, shortname, title, owner_name, created, has_upload_element, translations,
       is_draft, version, is_deleted, archived`

// surveyRow carries the comma separated translations column.
type surveyRow struct {
	models.Survey
	TranslationCodes sql.NullString `db:"translations"`
}

func (r surveyRow) toModel() *models.Survey {
	survey := r.Survey
	survey.Translations = splitTranslations(r.TranslationCodes.String)
	return &survey
}

func splitTranslations(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	codes := make([]string, 0, len(parts))
	for _, part := range parts {
		if code := strings.TrimSpace(part); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

func joinTranslations(codes []string) sql.NullString {
	if len(codes) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.Join(codes, ","), Valid: true}
}

// SurveyRepository reads and mutates survey rows on behalf of the archive lifecycle.
type SurveyRepository struct {
	db *sqlx.DB
}

// NewSurveyRepository constructs the repository.
func NewSurveyRepository(db *sqlx.DB) *SurveyRepository {
	return &SurveyRepository{db: db}
}

// GetSurvey returns the draft row of the survey named shortname, or nil. Soft-deleted
// surveys are only considered when includeDeleted is set.
func (r *SurveyRepository) GetSurvey(ctx context.Context, shortname string, includeDeleted bool) (*models.Survey, error) {
	query := `SELECT ` + surveyColumns + ` FROM surveys WHERE shortname = $1 AND is_draft = TRUE`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	// A live draft wins over soft-deleted rows that share its shortname.
	query += ` ORDER BY is_deleted ASC, id ASC LIMIT 1`
	return r.getOne(ctx, query, shortname)
}

// GetByID returns the survey row with id, or nil.
func (r *SurveyRepository) GetByID(ctx context.Context, id int64) (*models.Survey, error) {
	query := `SELECT ` + surveyColumns + ` FROM surveys WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *SurveyRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Survey, error) {
	var row surveyRow
	err := inTx(ctx, r.db, readOnlyTx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, query, arg)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get survey: %w", err)
	}
	return row.toModel(), nil
}

// MarkAsArchived flags every version of the survey as archived and hides it from live lookups.
func (r *SurveyRepository) MarkAsArchived(ctx context.Context, surveyUID string) error {
	return r.setArchived(ctx, surveyUID, true)
}

// UnmarkAsArchived brings every version of the survey back to live state.
func (r *SurveyRepository) UnmarkAsArchived(ctx context.Context, surveyUID string) error {
	return r.setArchived(ctx, surveyUID, false)
}

func (r *SurveyRepository) setArchived(ctx context.Context, surveyUID string, archived bool) error {
	const query = `UPDATE surveys SET archived = $2, is_deleted = $2 WHERE unique_id = $1`
	return inTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, surveyUID, archived)
		if err != nil {
			return fmt.Errorf("set survey archived: %w", err)
		}
		return requireAffected(res, "set survey archived")
	})
}

// LoadBundle assembles the draft, the newest published version and the older published
// versions of a survey. It returns nil when the survey has no draft row.
func (r *SurveyRepository) LoadBundle(ctx context.Context, surveyUID string) (*models.SurveyBundle, error) {
	query := `SELECT ` + surveyColumns + ` FROM surveys WHERE unique_id = $1 ORDER BY version ASC, id ASC`
	var rows []surveyRow
	err := inTx(ctx, r.db, readOnlyTx, func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, query, surveyUID)
	})
	if err != nil {
		return nil, fmt.Errorf("load survey bundle: %w", err)
	}

	bundle := &models.SurveyBundle{OldSurveys: map[string]*models.Survey{}}
	var published []*models.Survey
	for _, row := range rows {
		survey := row.toModel()
		if survey.IsDraft {
			if bundle.Survey == nil {
				bundle.Survey = survey
			}
			continue
		}
		published = append(published, survey)
	}
	if bundle.Survey == nil {
		return nil, nil
	}
	if n := len(published); n > 0 {
		bundle.ActiveSurvey = published[n-1]
		for _, survey := range published[:n-1] {
			bundle.OldSurveys[strconv.Itoa(survey.Version)] = survey
		}
	}
	return bundle, nil
}

// ImportSurvey materialises a bundle as a new live survey under a fresh unique id, with its
// full version history, in one transaction. It returns the id of the new draft row.
func (r *SurveyRepository) ImportSurvey(ctx context.Context, bundle *models.SurveyBundle, actorID int64) (int64, error) {
	if bundle == nil || bundle.Survey == nil {
		return 0, fmt.Errorf("import survey: empty bundle")
	}
	const query = `INSERT INTO surveys
	(unique_id, shortname, title, owner_name, created, has_upload_element, translations, is_draft, version,
	 is_deleted, archived, imported_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, FALSE, $10)
	RETURNING id`

	uid := uuid.NewString()
	versions := make([]*models.Survey, 0, len(bundle.OldSurveys)+1)
	keys := make([]string, 0, len(bundle.OldSurveys))
	for key := range bundle.OldSurveys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if s := bundle.OldSurveys[key]; s != nil {
			versions = append(versions, s)
		}
	}
	if bundle.ActiveSurvey != nil {
		versions = append(versions, bundle.ActiveSurvey)
	}

	var draftID int64
	err := inTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		insert := func(s *models.Survey, draft bool) (int64, error) {
			var id int64
			err := tx.QueryRowxContext(ctx, query, uid, s.Shortname, s.Title, s.OwnerName, s.Created,
				s.HasUploadElement, joinTranslations(s.Translations), draft, s.Version, actorID).Scan(&id)
			return id, err
		}
		id, err := insert(bundle.Survey, true)
		if err != nil {
			return fmt.Errorf("insert survey draft: %w", err)
		}
		draftID = id
		for _, version := range versions {
			if _, err := insert(version, false); err != nil {
				return fmt.Errorf("insert survey version %d: %w", version.Version, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return draftID, nil
}
