package content

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrCreateFailed = errors.New("content: create draft failed")

// Status of the CMS record.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "publish"
)

// Draft is what the CMS needs to open a record for a submission.
type Draft struct {
	SessionID     string
	CustomerName  string
	CustomerEmail string
	Description   string
	Mode          string
}

// ContentRecord is created once and updated at most twice afterwards.
type ContentRecord struct {
	ID      int64
	EditURL string
	Link    string
	Status  Status
	Meta    map[string]interface{}
	// MetadataPending is set when the metadata schema never became ready and
	// the initial metadata write was skipped.
	MetadataPending bool
}

// MediaRef is an uploaded CMS attachment.
type MediaRef struct {
	ID  int64
	URL string
}

// MediaFields is written as a whole; absent assets are empty strings.
type MediaFields struct {
	Main      string
	Signature string
	Age       string
	MainID    int64
}

// Meta renders the three media slots as metadata fields.
func (m MediaFields) Meta() map[string]interface{} {
	return map[string]interface{}{
		"main":      m.Main,
		"signature": m.Signature,
		"age":       m.Age,
	}
}

// UpstreamError carries the CMS response for manual replay.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("cms %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

type wpPost struct {
	ID     int64           `json:"id"`
	Link   string          `json:"link"`
	Status string          `json:"status"`
	ACF    json.RawMessage `json:"acf"`
}

// acfReady reports whether the ACF block has been initialized. WordPress
// serializes an uninitialized block as an empty array or omits it.
func (p wpPost) acfReady() (map[string]interface{}, bool) {
	if len(p.ACF) == 0 {
		return nil, false
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(p.ACF, &fields); err != nil {
		return nil, false
	}
	return fields, fields != nil
}

type wpMedia struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}
