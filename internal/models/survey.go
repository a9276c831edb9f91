package models

import "time"

// Survey is one stored version of a survey as seen by the archive lifecycle.
type Survey struct {
	ID               int64     `db:"id" json:"id"`
	UniqueID         string    `db:"unique_id" json:"uniqueId"`
	Shortname        string    `db:"shortname" json:"shortname"`
	Title            string    `db:"title" json:"title"`
	OwnerName        string    `db:"owner_name" json:"ownerName"`
	Created          time.Time `db:"created" json:"created"`
	HasUploadElement bool      `db:"has_upload_element" json:"hasUploadElement"`
	Translations     []string  `db:"-" json:"translations,omitempty"`
	IsDraft          bool      `db:"is_draft" json:"isDraft"`
	Version          int       `db:"version" json:"version"`
	IsDeleted        bool      `db:"is_deleted" json:"isDeleted"`
	Archived         bool      `db:"archived" json:"archived"`
}

// SurveyBundle is the full survey graph written to, and read back from, the raw export file.
type SurveyBundle struct {
	Survey       *Survey            `json:"survey"`
	ActiveSurvey *Survey            `json:"activeSurvey,omitempty"`
	OldSurveys   map[string]*Survey `json:"oldSurveys,omitempty"`
}

// Rename rewrites the shortname on the draft, the active version and every historical version.
func (b *SurveyBundle) Rename(shortname string) {
	if b.Survey != nil {
		b.Survey.Shortname = shortname
	}
	if b.ActiveSurvey != nil {
		b.ActiveSurvey.Shortname = shortname
	}
	for _, s := range b.OldSurveys {
		if s != nil {
			s.Shortname = shortname
		}
	}
}
