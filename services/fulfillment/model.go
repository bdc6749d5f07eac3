package fulfillment

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"appraisal-fulfillment/pkg/errutil"
	"appraisal-fulfillment/services/content"
	"appraisal-fulfillment/services/media"
	"appraisal-fulfillment/services/payment"
)

// State is a step of a fulfillment run.
type State string

const (
	StateReceived         State = "received"
	StateDeduplicated     State = "deduplicated"
	StateVerified         State = "verified"
	StateLedgerWritten    State = "ledger_written"
	StateContentDrafted   State = "content_drafted"
	StateMediaProcessing  State = "media_processing"
	StateContentFinalized State = "content_finalized"
	StateNotified         State = "notified"
	StatePublished        State = "published"
	StateDone             State = "done"
	StateErrored          State = "errored"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateDeduplicated || s == StateErrored
}

const MaxDescriptionLength = 2000

var sessionIDPattern = regexp.MustCompile(`^[\w\- ]+$`)

var ErrInvalidSubmission = errors.New("fulfillment: invalid submission")

// Submission is the transient aggregate for one intake run.
type Submission struct {
	SessionID     string
	CustomerEmail string
	CustomerName  string
	Description   string
	PaymentRef    string
	Mode          payment.Mode
	Files         map[media.AssetKey]media.File
}

// BulkSubmission is a multi-item intake that ends in a checkout redirect.
type BulkSubmission struct {
	SessionID     string
	CustomerEmail string
	CustomerName  string
	Description   string
	Items         []media.File
}

// Result records what a run did. States lists every transition in order.
type Result struct {
	Kind      string
	SessionID string
	Mode      payment.Mode
	States    []State
	Content   content.ContentRecord
	Assets    map[media.AssetKey]*media.Asset
	BackupURL string
	// Ignored is set for verified events that do not drive fulfillment.
	Ignored bool
}

func (r *Result) to(s State) {
	r.States = append(r.States, s)
}

// Final is the last state reached.
func (r Result) Final() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

func (r Result) Deduplicated() bool {
	return r.Final() == StateDeduplicated
}

// ValidateSessionID checks the intake session id format.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return errutil.ValidationFailed("invalid session_id", ErrInvalidSubmission,
			errutil.WithDetails(errutil.Detail{Field: "session_id", Message: "only letters, digits, underscores, hyphens and spaces are allowed"}))
	}
	return nil
}

func validateDescription(d string) error {
	if utf8.RuneCountInString(d) > MaxDescriptionLength {
		return errutil.ValidationFailed("description too long", ErrInvalidSubmission,
			errutil.WithDetails(errutil.Detail{Field: "description", Message: fmt.Sprintf("at most %d characters", MaxDescriptionLength)}))
	}
	return nil
}

// Validate reports the first problem with s.
func (s Submission) Validate() error {
	if err := ValidateSessionID(s.SessionID); err != nil {
		return err
	}
	if err := validateDescription(s.Description); err != nil {
		return err
	}
	if err := media.Validate(s.Files); err != nil {
		return errutil.ValidationFailed("invalid images", fmt.Errorf("%w: %w", ErrInvalidSubmission, err),
			errutil.WithDetails(errutil.Detail{Field: "main", Message: err.Error()}))
	}
	return nil
}

func (b BulkSubmission) Validate() error {
	if err := ValidateSessionID(b.SessionID); err != nil {
		return err
	}
	if err := validateDescription(b.Description); err != nil {
		return err
	}
	if len(b.Items) == 0 {
		return errutil.ValidationFailed("no items", ErrInvalidSubmission,
			errutil.WithDetails(errutil.Detail{Field: "items", Message: "at least one file is required"}))
	}
	for i, it := range b.Items {
		if len(it.Data) == 0 {
			return errutil.ValidationFailed("empty item", ErrInvalidSubmission,
				errutil.WithDetails(errutil.Detail{Field: fmt.Sprintf("items[%d]", i), Message: "file is empty"}))
		}
	}
	return nil
}
