package dto

import "github.com/noah-isme/survey-archive-api/internal/models"

// ArchiveListQuery captures listing filters from the query string. Dates use YYYY-MM-DD.
type ArchiveListQuery struct {
	UniqueID      string `form:"uid" validate:"omitempty,max=64"`
	UserID        int64  `form:"userId" validate:"omitempty,min=1"`
	Finished      *bool  `form:"finished"`
	Shortname     string `form:"shortname" validate:"omitempty,max=255"`
	Title         string `form:"title" validate:"omitempty,max=255"`
	Owner         string `form:"owner" validate:"omitempty,max=255"`
	CreatedFrom   string `form:"createdFrom" validate:"omitempty,datetime=2006-01-02"`
	CreatedTo     string `form:"createdTo" validate:"omitempty,datetime=2006-01-02"`
	ArchivedFrom  string `form:"archivedFrom" validate:"omitempty,datetime=2006-01-02"`
	ArchivedTo    string `form:"archivedTo" validate:"omitempty,datetime=2006-01-02"`
	Sort          string `form:"sort" validate:"omitempty,max=64"`
	Order         string `form:"order" validate:"omitempty,oneof=asc desc ASC DESC"`
	Page          int    `form:"page" validate:"omitempty,min=1"`
	Rows          int    `form:"rows" validate:"omitempty,min=1,max=500"`
	IncludeErrors bool   `form:"includeErrors"`
}

// RestoreArchiveRequest is the body of a restore call. An empty alias restores under the
// archived shortname.
type RestoreArchiveRequest struct {
	Alias string `json:"alias" validate:"omitempty,max=255"`
	Async bool   `json:"async"`
}

// RestoreArchiveResponse reports the survey a synchronous restore produced.
type RestoreArchiveResponse struct {
	Survey *models.Survey `json:"survey"`
}

// RestoreQueuedResponse reports the job id of an asynchronous restore.
type RestoreQueuedResponse struct {
	JobID     string `json:"jobId"`
	ArchiveID int64  `json:"archiveId"`
}

// ArchiveCountResponse wraps the archive count of a user.
type ArchiveCountResponse struct {
	UserID int64 `json:"userId"`
	Count  int   `json:"count"`
}

// ArchiveFileURLResponse carries a signed download link.
type ArchiveFileURLResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}
