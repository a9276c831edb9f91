package models

import "time"

// Archive is the metadata record of one archived survey. SurveyUID keys its file set.
type Archive struct {
	ID                     int64      `db:"id" json:"id"`
	SurveyUID              string     `db:"survey_uid" json:"surveyUid"`
	SurveyTitle            string     `db:"survey_title" json:"surveyTitle"`
	SurveyShortname        string     `db:"survey_shortname" json:"surveyShortname"`
	Owner                  string     `db:"owner" json:"owner"`
	Languages              string     `db:"languages" json:"languages"`
	UserID                 int64      `db:"user_id" json:"userId"`
	Replies                int        `db:"replies" json:"replies"`
	SurveyHasUploadedFiles bool       `db:"survey_has_uploaded_files" json:"surveyHasUploadedFiles"`
	Created                time.Time  `db:"created" json:"created"`
	Archived               time.Time  `db:"archived" json:"archived"`
	Finished               bool       `db:"finished" json:"finished"`
	Restoring              bool       `db:"restoring" json:"restoring"`
	RestoringSince         *time.Time `db:"restoring_since" json:"restoringSince,omitempty"`
	Error                  *string    `db:"error" json:"error,omitempty"`
}

// Active reports whether the archive is still in progress (not finished, not failed).
func (a *Archive) Active() bool {
	return !a.Finished && a.Error == nil
}

// ArchiveFilter narrows archive listings. Zero values leave a field unconstrained.
type ArchiveFilter struct {
	UniqueID     string
	UserID       int64
	Finished     *bool
	Shortname    string
	Title        string
	Owner        string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	ArchivedFrom *time.Time
	ArchivedTo   *time.Time
	SortKey      string
	SortOrder    string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
