package ledger

import "time"

// Status is the pending-fulfillment row's progress marker.
type Status string

const (
	StatusSubmitted     Status = "SUBMITTED"
	StatusBackupSaved   Status = "GCS_SAVED"
	StatusDrafted       Status = "CMS_DRAFTED"
	StatusMediaAttached Status = "MEDIA_ATTACHED"
	StatusPaid          Status = "PAID"
	StatusFailed        Status = "FAILED"
)

var statusRank = map[Status]int{
	StatusSubmitted:     1,
	StatusBackupSaved:   2,
	StatusDrafted:       3,
	StatusMediaAttached: 4,
	StatusPaid:          4,
}

// Rank orders statuses along the happy path. FAILED and unknown values rank 0.
func (s Status) Rank() int { return statusRank[s] }

// Sales sheet columns.
var SalesHeader = []string{
	"session_id", "payment_intent_id", "customer_id", "customer_name",
	"customer_email", "amount", "date", "mode",
}

const salesColSessionID = 0

// Pending sheet columns. media_urls_json, backup_url and mode were appended
// after the original nine.
var PendingHeader = []string{
	"date", "product_name", "session_id", "email", "name", "status",
	"content_edit_url", "reserved", "description", "media_urls_json",
	"backup_url", "mode",
}

const (
	pendingColSessionID = 2
	pendingColStatus    = 5
	pendingColEditURL   = 6
	pendingColMedia     = 9
	pendingColBackup    = 10
)

// Error log columns.
var ErrorHeader = []string{
	"timestamp", "severity", "script", "error_code", "message", "stack",
	"user_id", "request_id", "environment", "endpoint", "context",
	"resolution_status", "assigned_to", "reference_link", "resolution_link",
}

const DateLayout = "2006-01-02 15:04:05"

// PendingSummary is the initial pending-fulfillment row.
type PendingSummary struct {
	Date        time.Time
	ProductName string
	SessionID   string
	Email       string
	Name        string
	Description string
	Mode        string
	// Status defaults to SUBMITTED.
	Status Status
	// MediaURLs is pre-rendered JSON; bulk rows list their stored items here.
	MediaURLs string
}

// StatusUpdate carries the fields to overwrite; empty fields are left alone.
type StatusUpdate struct {
	Status    Status
	EditURL   string
	MediaURLs string
	BackupURL string
}

func (u StatusUpdate) empty() bool {
	return u.Status == "" && u.EditURL == "" && u.MediaURLs == "" && u.BackupURL == ""
}
