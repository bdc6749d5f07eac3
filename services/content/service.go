package content

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"appraisal-fulfillment/pkg/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Repository is the CMS client. Records become readable with their
// metadata schema some time after creation.
type Repository struct {
	client        *resty.Client
	baseURL       string
	postType      string
	readyAttempts int
	readyBackoff  time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewService(cfg *config.Config) *Repository {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.CMS.BaseURL, "/")).
		SetBasicAuth(cfg.CMS.Username, cfg.CMS.AppPassword).
		SetTimeout(cfg.CMS.Timeout).
		SetHeader("Accept", "application/json")

	return NewRepository(client, cfg.CMS.BaseURL, cfg.CMS.PostType, cfg.CMS.ReadyAttempts, cfg.CMS.ReadyBackoff)
}

func NewRepository(client *resty.Client, baseURL, postType string, readyAttempts int, readyBackoff time.Duration) *Repository {
	if readyAttempts <= 0 {
		readyAttempts = 3
	}
	return &Repository{
		client:        client,
		baseURL:       strings.TrimRight(baseURL, "/"),
		postType:      postType,
		readyAttempts: readyAttempts,
		readyBackoff:  readyBackoff,
		sleep:         sleepCtx,
	}
}

func (r *Repository) postsPath() string {
	return "/wp-json/wp/v2/" + r.postType
}

func (r *Repository) postPath(id int64) string {
	return r.postsPath() + "/" + strconv.FormatInt(id, 10)
}

func (r *Repository) editURL(id int64) string {
	return fmt.Sprintf("%s/wp-admin/post.php?post=%d&action=edit", r.baseURL, id)
}

// InitialMeta is the metadata written right after creation.
func InitialMeta(d Draft) map[string]interface{} {
	return map[string]interface{}{
		"session_id":           d.SessionID,
		"customer_name":        d.CustomerName,
		"customer_email":       d.CustomerEmail,
		"customer_description": d.Description,
		"payment_mode":         d.Mode,
		"processing_status":    "drafted",
	}
}

// CreateDraft creates the record, waits for its metadata schema, and writes
// the initial metadata. When the readiness budget runs out the record is
// returned with MetadataPending set and no metadata is written.
func (r *Repository) CreateDraft(ctx context.Context, d Draft) (ContentRecord, error) {
	zapLog := zap.L().With(zap.String("session_id", d.SessionID), zap.String("stage", "cms_create"))

	var created wpPost
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"title":   fmt.Sprintf("Appraisal %s - %s", d.SessionID, d.CustomerName),
			"status":  string(StatusDraft),
			"content": d.Description,
		}).
		SetResult(&created).
		Post(r.postsPath())
	if err != nil {
		zapLog.Error("cms create request failed", zap.Error(err))
		return ContentRecord{}, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	if resp.IsError() || created.ID == 0 {
		upstream := &UpstreamError{Op: "create", StatusCode: resp.StatusCode(), Body: resp.String()}
		zapLog.Error("cms create rejected", zap.Int("status", upstream.StatusCode), zap.String("body", upstream.Body))
		return ContentRecord{}, fmt.Errorf("%w: %w", ErrCreateFailed, upstream)
	}

	rec := ContentRecord{
		ID:      created.ID,
		EditURL: r.editURL(created.ID),
		Link:    created.Link,
		Status:  StatusDraft,
	}

	if !r.waitReady(ctx, created.ID, zapLog) {
		zapLog.Warn("cms metadata schema not ready, deferring metadata write",
			zap.Int64("post_id", created.ID),
			zap.Int("attempts", r.readyAttempts),
		)
		rec.MetadataPending = true
		return rec, nil
	}

	meta := InitialMeta(d)
	if err := r.UpdateMeta(ctx, created.ID, meta); err != nil {
		zapLog.Warn("initial metadata write failed", zap.Int64("post_id", created.ID), zap.Error(err))
		rec.MetadataPending = true
		return rec, nil
	}
	rec.Meta = meta
	return rec, nil
}

// waitReady polls GetByID with a fixed budget and fixed backoff.
func (r *Repository) waitReady(ctx context.Context, id int64, zapLog *zap.Logger) bool {
	for attempt := 1; attempt <= r.readyAttempts; attempt++ {
		rec, ready, err := r.get(ctx, id)
		switch {
		case err != nil:
			zapLog.Debug("cms readiness check failed", zap.Int("attempt", attempt), zap.Error(err))
		case ready:
			zapLog.Debug("cms record ready", zap.Int("attempt", attempt), zap.Int64("post_id", rec.ID))
			return true
		}

		if attempt == r.readyAttempts {
			break
		}
		if err := r.sleep(ctx, r.readyBackoff); err != nil {
			return false
		}
	}
	return false
}

// GetByID fetches the record including its metadata fields.
func (r *Repository) GetByID(ctx context.Context, id int64) (ContentRecord, error) {
	rec, _, err := r.get(ctx, id)
	return rec, err
}

// Ready reports whether the record's metadata schema is initialized.
func (r *Repository) Ready(ctx context.Context, id int64) (bool, error) {
	_, ready, err := r.get(ctx, id)
	return ready, err
}

func (r *Repository) get(ctx context.Context, id int64) (ContentRecord, bool, error) {
	var post wpPost
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("context", "edit").
		SetResult(&post).
		Get(r.postPath(id))
	if err != nil {
		return ContentRecord{}, false, fmt.Errorf("cms get %d: %w", id, err)
	}
	if resp.IsError() {
		return ContentRecord{}, false, &UpstreamError{Op: "get", StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	fields, ready := post.acfReady()
	return ContentRecord{
		ID:      post.ID,
		EditURL: r.editURL(post.ID),
		Link:    post.Link,
		Status:  Status(post.Status),
		Meta:    fields,
	}, ready, nil
}

// UpdateMeta overwrites the given metadata fields.
func (r *Repository) UpdateMeta(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.update(ctx, "update_meta", id, map[string]interface{}{"acf": fields})
}

// AttachMedia writes all media slots and customer fields. Repeating the
// call overwrites with the same values.
func (r *Repository) AttachMedia(ctx context.Context, id int64, media MediaFields, customer map[string]interface{}) error {
	acf := media.Meta()
	for k, v := range customer {
		acf[k] = v
	}
	body := map[string]interface{}{"acf": acf}
	if media.MainID > 0 {
		body["featured_media"] = media.MainID
	}
	return r.update(ctx, "attach_media", id, body)
}

// Finalize writes the closing status fields.
func (r *Repository) Finalize(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.update(ctx, "finalize", id, map[string]interface{}{"acf": fields})
}

func (r *Repository) update(ctx context.Context, op string, id int64, body map[string]interface{}) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(r.postPath(id))
	if err != nil {
		return fmt.Errorf("cms %s %d: %w", op, id, err)
	}
	if resp.IsError() {
		return &UpstreamError{Op: op, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// UploadMedia stores data as a CMS attachment.
func (r *Repository) UploadMedia(ctx context.Context, filename, contentType string, data []byte) (MediaRef, error) {
	var media wpMedia
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(filename))).
		SetBody(data).
		SetResult(&media).
		Post("/wp-json/wp/v2/media")
	if err != nil {
		return MediaRef{}, fmt.Errorf("cms upload %s: %w", filename, err)
	}
	if resp.IsError() || media.ID == 0 {
		return MediaRef{}, &UpstreamError{Op: "upload_media", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return MediaRef{ID: media.ID, URL: media.SourceURL}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
