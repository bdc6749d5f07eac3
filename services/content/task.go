package content

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"appraisal-fulfillment/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RetryMetadataPayload replays metadata writes that could not be made
// during the run.
type RetryMetadataPayload struct {
	PostID    int64                  `json:"post_id"`
	SessionID string                 `json:"session_id"`
	Fields    map[string]interface{} `json:"fields"`
}

func NewRetryMetadataTask(p RetryMetadataPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal retry payload: %w", err)
	}
	return asynq.NewTask(taskname.ContentMetadataRetry, payload,
		asynq.MaxRetry(10),
		asynq.Queue(taskname.QueueDefault),
		asynq.Timeout(time.Minute),
		asynq.TaskID(fmt.Sprintf("%s:%d", p.SessionID, p.PostID)),
	), nil
}

// metaWriter is the slice of Repository the retry handler needs.
type metaWriter interface {
	Ready(ctx context.Context, id int64) (bool, error)
	UpdateMeta(ctx context.Context, id int64, fields map[string]interface{}) error
}

type RetryHandler struct {
	repo metaWriter
}

func NewRetryHandler(repo *Repository) *RetryHandler {
	return &RetryHandler{repo: repo}
}

// ProcessTask returns an error while the record is still not ready so
// asynq schedules another attempt.
func (h *RetryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p RetryMetadataPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal retry payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("session_id", p.SessionID),
		zap.Int64("post_id", p.PostID),
		zap.String("stage", "cms_metadata_retry"),
	)

	ready, err := h.repo.Ready(ctx, p.PostID)
	if err != nil {
		zapLog.Warn("readiness check failed", zap.Error(err))
		return err
	}
	if !ready {
		return fmt.Errorf("post %d metadata schema not ready", p.PostID)
	}

	if err := h.repo.UpdateMeta(ctx, p.PostID, p.Fields); err != nil {
		zapLog.Warn("metadata write failed", zap.Error(err))
		return err
	}
	zapLog.Info("deferred metadata written", zap.Int("fields", len(p.Fields)))
	return nil
}
