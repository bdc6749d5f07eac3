package fulfillment

import (
	"context"
	"encoding/json"
	"time"

	"appraisal-fulfillment/pkg/errutil"
	"appraisal-fulfillment/services/content"
	"appraisal-fulfillment/services/errorreport"
	"appraisal-fulfillment/services/ledger"
	"appraisal-fulfillment/services/media"
	"appraisal-fulfillment/services/notification"
	"appraisal-fulfillment/services/publisher"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const submissionEndpoint = "/submissions"

// Submit runs the intake path. The raw files are backed up from the start
// and the backup is joined only before the run returns. Callers that answer
// early run Submit under a background.Tracker.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	res := Result{Kind: "submission", SessionID: sub.SessionID, Mode: sub.Mode}
	res.to(StateReceived)

	ctx, span, zapLog := s.start(ctx, "fulfillment.Submit", sub.SessionID, sub.Mode)
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sub.SessionID),
		attribute.String("mode", string(sub.Mode)),
		attribute.Int("assets", len(sub.Files)),
	)

	started := time.Now()
	defer s.observe(res.Kind, &res, started)

	if err := sub.Validate(); err != nil {
		res.to(StateErrored)
		return res, err
	}

	exists, err := s.ledger.HasPending(ctx, sub.SessionID)
	if err != nil {
		zapLog.Error("duplicate check failed", zap.String("stage", "dedup"), zap.Error(err))
		s.stageFailed("dedup")
	}
	if exists {
		zapLog.Warn("duplicate session, skipping run", zap.String("stage", "dedup"))
		s.metrics.DuplicateHits.WithLabelValues("pending").Inc()
		res.to(StateDeduplicated)
		return res, nil
	}
	res.to(StateVerified)

	backup := s.media.StartBackup(ctx, sub.SessionID, sub.Files)
	pending := newProgress(s.ledger, sub.SessionID, s.metrics, zapLog)

	draft := content.Draft{
		SessionID:     sub.SessionID,
		CustomerName:  sub.CustomerName,
		CustomerEmail: sub.CustomerEmail,
		Description:   sub.Description,
		Mode:          string(sub.Mode),
	}

	var (
		rec        content.ContentRecord
		pendingErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		pendingErr = s.ledger.RecordPendingFulfillment(ctx, ledger.PendingSummary{
			Date:        started,
			ProductName: s.opts.ProductName,
			SessionID:   sub.SessionID,
			Email:       sub.CustomerEmail,
			Name:        sub.CustomerName,
			Description: sub.Description,
			Mode:        string(sub.Mode),
			Status:      ledger.StatusSubmitted,
		})
		return nil
	})
	g.Go(func() error {
		var err error
		rec, err = s.content.CreateDraft(ctx, draft)
		return err
	})
	draftErr := g.Wait()

	if pendingErr != nil {
		zapLog.Error("pending row write failed", zap.String("stage", "ledger_pending"), zap.Error(pendingErr))
		s.stageFailed("ledger_pending")
		s.report(ctx, errorreport.SeverityError, "LEDGER_PENDING_FAILED", submissionEndpoint, pendingErr, map[string]interface{}{
			"session_id": sub.SessionID,
			"stage":      "ledger_pending",
		})
	} else {
		pending.recorded(ledger.StatusSubmitted)
		res.to(StateLedgerWritten)
	}

	if draftErr != nil {
		zapLog.Error("content draft failed", zap.String("stage", "cms_create"), zap.Error(draftErr))
		s.stageFailed("cms_create")
		span.RecordError(draftErr)
		span.SetStatus(codes.Error, "cms_create")
		s.report(ctx, errorreport.SeverityError, "CMS_CREATE_FAILED", submissionEndpoint, draftErr, map[string]interface{}{
			"session_id": sub.SessionID,
			"mode":       string(sub.Mode),
			"stage":      "cms_create",
		})
		// Keep the raw files reachable for a manual replay.
		res.BackupURL = s.joinBackup(ctx, backup, nil, pending)
		res.to(StateErrored)
		return res, errutil.BadGateway("content draft creation failed", draftErr)
	}

	// A backup that beat the draft gets its own step on the pending row.
	backupRecorded := false
	if backup.Finished() {
		res.BackupURL = s.joinBackup(ctx, backup, nil, pending)
		backupRecorded = true
	}

	res.Content = rec
	res.to(StateContentDrafted)
	pending.advance(ctx, ledger.StatusUpdate{Status: ledger.StatusDrafted, EditURL: rec.EditURL})

	var retry map[string]interface{}
	if rec.MetadataPending {
		retry = merge(retry, content.InitialMeta(draft))
	}

	res.to(StateMediaProcessing)
	assets := s.media.Upload(ctx, sub.SessionID, sub.Files)
	res.Assets = assets
	for _, key := range media.AssetKeys {
		a, ok := assets[key]
		if !ok || a.Err == nil {
			continue
		}
		s.report(ctx, errorreport.SeverityWarning, "MEDIA_UPLOAD_FAILED", submissionEndpoint, a.Err, map[string]interface{}{
			"session_id": sub.SessionID,
			"asset":      string(key),
			"stage":      "media_upload",
		})
	}

	fields := media.Fields(assets)
	customer := map[string]interface{}{
		"customer_name":        sub.CustomerName,
		"customer_email":       sub.CustomerEmail,
		"customer_description": sub.Description,
	}
	if err := s.content.AttachMedia(ctx, rec.ID, fields, customer); err != nil {
		zapLog.Warn("media attach failed", zap.String("stage", "cms_attach"), zap.Int64("post_id", rec.ID), zap.Error(err))
		s.stageFailed("cms_attach")
		retry = merge(merge(retry, fields.Meta()), customer)
	} else if rec.MetadataPending {
		// Writes against an uninitialized record can be dropped silently.
		retry = merge(merge(retry, fields.Meta()), customer)
	}

	mediaJSON, err := json.Marshal(fields.Meta())
	if err != nil {
		zapLog.Warn("media urls not encodable", zap.Error(err))
	}
	pending.advance(ctx, ledger.StatusUpdate{Status: ledger.StatusMediaAttached, MediaURLs: string(mediaJSON)})

	final := map[string]interface{}{
		"processing_status": "completed",
		"payment_mode":      string(sub.Mode),
	}
	if sub.PaymentRef != "" {
		final["payment_reference"] = sub.PaymentRef
	}
	if err := s.content.Finalize(ctx, rec.ID, final); err != nil {
		zapLog.Warn("content finalize failed", zap.String("stage", "cms_finalize"), zap.Int64("post_id", rec.ID), zap.Error(err))
		s.stageFailed("cms_finalize")
		retry = merge(retry, final)
	} else {
		res.to(StateContentFinalized)
		if rec.MetadataPending {
			retry = merge(retry, final)
		}
	}

	if s.notify(ctx, notification.Notification{
		ToEmail: sub.CustomerEmail,
		ToName:  sub.CustomerName,
		Data: map[string]interface{}{
			"customer_name": sub.CustomerName,
			"session_id":    sub.SessionID,
			"description":   sub.Description,
			"mode":          string(sub.Mode),
		},
	}, zapLog) {
		res.to(StateNotified)
	}

	if backupRecorded {
		backup.Apply(assets)
	} else {
		res.BackupURL = s.joinBackup(ctx, backup, assets, pending)
	}

	if s.publish(ctx, publisher.FulfillmentMessage{
		SessionID:     sub.SessionID,
		Kind:          "submission",
		Mode:          string(sub.Mode),
		CustomerEmail: sub.CustomerEmail,
		ContentID:     rec.ID,
		EditURL:       rec.EditURL,
		Media: map[string]string{
			string(media.AssetMain):      fields.Main,
			string(media.AssetSignature): fields.Signature,
			string(media.AssetAge):       fields.Age,
		},
		BackupURL: res.BackupURL,
	}, zapLog) {
		res.to(StatePublished)
	}

	s.deferMetadata(ctx, rec, sub.SessionID, retry, zapLog)

	res.to(StateDone)
	zapLog.Info("submission fulfilled",
		zap.Int64("post_id", rec.ID),
		zap.String("backup_url", res.BackupURL),
	)
	return res, nil
}

// joinBackup waits for the backup and records its location. GCS_SAVED is
// written only when it does not move the row backwards.
func (s *Service) joinBackup(ctx context.Context, h *media.BackupHandle, assets map[media.AssetKey]*media.Asset, pending *progress) string {
	if assets != nil {
		h.Apply(assets)
	}
	folder := h.FolderURL()
	if folder == "" {
		return ""
	}
	pending.advance(ctx, ledger.StatusUpdate{Status: ledger.StatusBackupSaved, BackupURL: folder})
	return folder
}
