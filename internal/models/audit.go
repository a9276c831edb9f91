package models

import "time"

// AuditResourceArchive is the resource every archive audit entry refers to.
const AuditResourceArchive = "archive"

// Archive lifecycle audit actions.
const (
	AuditActionArchiveSurvey = "ARCHIVE_SURVEY"
	AuditActionRestoreSurvey = "RESTORE_SURVEY"
	AuditActionPurgeArchive  = "PURGE_ARCHIVE"
	AuditActionDownloadFile  = "DOWNLOAD_ARCHIVE_FILE"
)

// AuditLog is one row of audit_logs. ResourceID holds the archive id as text and NewValues
// a JSON object describing the change.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *int64    `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
