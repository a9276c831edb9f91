package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// AnswerRepository counts answer sets submitted to published survey versions.
type AnswerRepository struct {
	db *sqlx.DB
}

// NewAnswerRepository constructs the repository.
func NewAnswerRepository(db *sqlx.DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// CountPublishedAnswerSets returns the number of non-draft answer sets across every published
// version of the survey identified by shortname and uid.
func (r *AnswerRepository) CountPublishedAnswerSets(ctx context.Context, shortname, surveyUID string) (int, error) {
	const query = `SELECT COUNT(a.id) FROM answer_sets a
	JOIN surveys s ON s.id = a.survey_id
	WHERE s.shortname = $1 AND s.unique_id = $2 AND s.is_draft = FALSE AND a.is_draft = FALSE`
	var count int
	err := inTx(ctx, r.db, readOnlyTx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &count, query, shortname, surveyUID)
	})
	if err != nil {
		return 0, fmt.Errorf("count published answer sets: %w", err)
	}
	return count, nil
}
