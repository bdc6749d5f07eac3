package fulfillment

import (
	"context"
	"time"

	"appraisal-fulfillment/pkg/errutil"
	"appraisal-fulfillment/services/content"
	"appraisal-fulfillment/services/errorreport"
	"appraisal-fulfillment/services/notification"
	"appraisal-fulfillment/services/payment"
	"appraisal-fulfillment/services/publisher"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const webhookEndpoint = "/webhooks/stripe"

// HandlePayment runs the webhook path for a verified event. A duplicate
// session ends the run without side effects and without an error. Only a
// failed content draft is returned as an error.
func (s *Service) HandlePayment(ctx context.Context, evt payment.PaymentEvent) (Result, error) {
	kind := "single"
	if evt.IsBulk() {
		kind = "bulk"
	}
	res := Result{Kind: kind, SessionID: evt.ID, Mode: evt.Mode}
	res.to(StateReceived)

	ctx, span, zapLog := s.start(ctx, "fulfillment.HandlePayment", evt.ID, evt.Mode)
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", evt.ID),
		attribute.String("mode", string(evt.Mode)),
		attribute.String("kind", kind),
	)
	zapLog = zapLog.With(zap.String("event_id", evt.EventID))

	if !evt.Fulfillable() {
		zapLog.Info("event acknowledged without fulfillment", zap.String("type", evt.Type))
		res.Ignored = true
		res.to(StateDone)
		return res, nil
	}

	started := time.Now()
	defer s.observe(kind, &res, started)

	dup, err := s.ledger.IsDuplicate(ctx, evt.ID)
	if err != nil {
		// The scan failing is not a hit; proceed and accept the risk of a
		// second run over losing a paid order.
		zapLog.Error("duplicate check failed", zap.String("stage", "dedup"), zap.Error(err))
		s.stageFailed("dedup")
	}
	if dup {
		zapLog.Warn("duplicate session, skipping run", zap.String("stage", "dedup"))
		s.metrics.DuplicateHits.WithLabelValues("sales").Inc()
		res.to(StateDeduplicated)
		return res, nil
	}
	res.to(StateVerified)

	if evt.IsBulk() {
		res, err = s.handleBulkPayment(ctx, evt, res, zapLog)
		return res, err
	}

	draft := content.Draft{
		SessionID:     evt.ID,
		CustomerName:  evt.Customer.Name,
		CustomerEmail: evt.Customer.Email,
		Description:   evt.Metadata["description"],
		Mode:          string(evt.Mode),
	}

	var (
		rec     content.ContentRecord
		saleErr error
	)
	// Neither branch cancels the other: a failed draft must not abort the
	// sales row.
	var g errgroup.Group
	g.Go(func() error {
		saleErr = s.ledger.RecordSale(ctx, evt)
		return nil
	})
	g.Go(func() error {
		var err error
		rec, err = s.content.CreateDraft(ctx, draft)
		return err
	})
	if err := g.Wait(); err != nil {
		zapLog.Error("content draft failed", zap.String("stage", "cms_create"), zap.Error(err))
		s.stageFailed("cms_create")
		span.RecordError(err)
		span.SetStatus(codes.Error, "cms_create")
		s.report(ctx, errorreport.SeverityError, "CMS_CREATE_FAILED", webhookEndpoint, err, map[string]interface{}{
			"session_id": evt.ID,
			"event_id":   evt.EventID,
			"mode":       string(evt.Mode),
			"stage":      "cms_create",
		})
		if saleErr == nil {
			res.to(StateLedgerWritten)
		}
		res.to(StateErrored)
		return res, errutil.BadGateway("content draft creation failed", err)
	}

	if saleErr != nil {
		zapLog.Error("sales row write failed", zap.String("stage", "ledger_sale"), zap.Error(saleErr))
		s.stageFailed("ledger_sale")
		s.report(ctx, errorreport.SeverityCritical, "LEDGER_SALE_FAILED", webhookEndpoint, saleErr, map[string]interface{}{
			"session_id": evt.ID,
			"mode":       string(evt.Mode),
			"amount":     evt.Amount().StringFixed(2),
			"stage":      "ledger_sale",
		})
	} else {
		res.to(StateLedgerWritten)
	}

	res.Content = rec
	res.to(StateContentDrafted)
	zapLog.Info("content drafted", zap.Int64("post_id", rec.ID), zap.Bool("metadata_pending", rec.MetadataPending))

	var retry map[string]interface{}
	if rec.MetadataPending {
		retry = merge(retry, content.InitialMeta(draft))
	}

	final := map[string]interface{}{
		"processing_status": "paid",
		"payment_mode":      string(evt.Mode),
		"payment_intent_id": evt.PaymentIntentID,
		"amount":            evt.Amount().StringFixed(2),
		"currency":          evt.Currency,
	}
	if err := s.content.Finalize(ctx, rec.ID, final); err != nil {
		zapLog.Warn("content finalize failed", zap.String("stage", "cms_finalize"), zap.Int64("post_id", rec.ID), zap.Error(err))
		s.stageFailed("cms_finalize")
		retry = merge(retry, final)
	} else {
		res.to(StateContentFinalized)
		if rec.MetadataPending {
			// The write may not have landed on an uninitialized record; the
			// replay must not leave the initial status behind.
			retry = merge(retry, final)
		}
	}

	if s.notify(ctx, notification.Notification{
		ToEmail: evt.Customer.Email,
		ToName:  evt.Customer.Name,
		Data: map[string]interface{}{
			"customer_name": evt.Customer.Name,
			"session_id":    evt.ID,
			"amount":        evt.Amount().StringFixed(2),
			"currency":      evt.Currency,
			"mode":          string(evt.Mode),
		},
	}, zapLog) {
		res.to(StateNotified)
	}

	if s.publish(ctx, publisher.FulfillmentMessage{
		SessionID:     evt.ID,
		EventID:       evt.EventID,
		Kind:          "payment",
		Mode:          string(evt.Mode),
		CustomerEmail: evt.Customer.Email,
		ContentID:     rec.ID,
		EditURL:       rec.EditURL,
	}, zapLog) {
		res.to(StatePublished)
	}

	s.deferMetadata(ctx, rec, evt.ID, retry, zapLog)

	res.to(StateDone)
	zapLog.Info("payment fulfilled", zap.Int("transitions", len(res.States)))
	return res, nil
}
