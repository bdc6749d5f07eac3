package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"appraisal-fulfillment/pkg/errutil"
	"appraisal-fulfillment/services/errorreport"
	"appraisal-fulfillment/services/ledger"
	"appraisal-fulfillment/services/media"
	"appraisal-fulfillment/services/notification"
	"appraisal-fulfillment/services/payment"
	"appraisal-fulfillment/services/publisher"

	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const bulkEndpoint = "/bulk-submissions"

// BulkItemKey is the flat object layout for bulk items, numbered from 1.
func (s *Service) BulkItemKey(sessionID string, n int, raw []byte) string {
	return path.Join(s.opts.BulkPrefix, sessionID, fmt.Sprintf("item-%d%s", n, media.Extension(raw)))
}

// StartBulk stores every item, writes the pending row and opens a priced
// checkout. The content repository and media pipeline are not involved.
func (s *Service) StartBulk(ctx context.Context, sub BulkSubmission) (payment.BulkQuote, error) {
	res := Result{Kind: "bulk_intake", SessionID: sub.SessionID}
	if s.checkout != nil {
		res.Mode = s.checkout.Mode()
	}
	res.to(StateReceived)

	ctx, span, zapLog := s.start(ctx, "fulfillment.StartBulk", sub.SessionID, res.Mode)
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sub.SessionID), attribute.Int("items", len(sub.Items)))

	started := time.Now()
	defer s.observe(res.Kind, &res, started)

	if err := sub.Validate(); err != nil {
		res.to(StateErrored)
		return payment.BulkQuote{}, err
	}
	if s.checkout == nil || s.objects == nil {
		res.to(StateErrored)
		return payment.BulkQuote{}, errutil.ServiceUnavailable("bulk checkout is not configured", nil)
	}

	quote, err := s.checkout.Pricing().Quote(sub.SessionID, len(sub.Items))
	if err != nil {
		res.to(StateErrored)
		return payment.BulkQuote{}, errutil.ValidationFailed("invalid bulk submission", err,
			errutil.WithDetails(errutil.Detail{Field: "items", Message: err.Error()}))
	}
	quote.CustomerEmail = sub.CustomerEmail
	quote.CustomerName = sub.CustomerName
	quote.Mode = res.Mode

	exists, err := s.ledger.HasPending(ctx, sub.SessionID)
	if err != nil {
		zapLog.Error("duplicate check failed", zap.String("stage", "dedup"), zap.Error(err))
		s.stageFailed("dedup")
	}
	if exists {
		zapLog.Warn("duplicate session, skipping run", zap.String("stage", "dedup"))
		s.metrics.DuplicateHits.WithLabelValues("pending").Inc()
		res.to(StateDeduplicated)
		return payment.BulkQuote{}, errutil.Conflict("bulk session already submitted", nil)
	}
	res.to(StateVerified)

	urls := make([]string, len(sub.Items))
	g, gctx := errgroup.WithContext(ctx)
	for i, it := range sub.Items {
		g.Go(func() error {
			key := s.BulkItemKey(sub.SessionID, i+1, it.Data)
			u, err := s.objects.Put(gctx, key, media.ContentTypeFor(media.Extension(it.Data)), it.Data)
			if err != nil {
				return fmt.Errorf("store %s: %w", key, err)
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		zapLog.Error("bulk item upload failed", zap.String("stage", "bulk_store"), zap.Error(err))
		s.stageFailed("bulk_store")
		s.report(ctx, errorreport.SeverityError, "BULK_STORE_FAILED", bulkEndpoint, err, map[string]interface{}{
			"session_id": sub.SessionID,
			"items":      len(sub.Items),
			"stage":      "bulk_store",
		})
		res.to(StateErrored)
		return payment.BulkQuote{}, errutil.BadGateway("storing bulk items failed", err)
	}

	mediaJSON, err := json.Marshal(urls)
	if err != nil {
		res.to(StateErrored)
		return payment.BulkQuote{}, errutil.Internal("encode bulk item urls", err)
	}
	if err := s.ledger.RecordPendingFulfillment(ctx, ledger.PendingSummary{
		Date:        started,
		ProductName: s.opts.BulkProductName,
		SessionID:   sub.SessionID,
		Email:       sub.CustomerEmail,
		Name:        sub.CustomerName,
		Description: sub.Description,
		Mode:        string(res.Mode),
		Status:      ledger.StatusSubmitted,
		MediaURLs:   string(mediaJSON),
	}); err != nil {
		zapLog.Error("pending row write failed", zap.String("stage", "ledger_pending"), zap.Error(err))
		s.stageFailed("ledger_pending")
		s.report(ctx, errorreport.SeverityError, "LEDGER_PENDING_FAILED", bulkEndpoint, err, map[string]interface{}{
			"session_id": sub.SessionID,
			"stage":      "ledger_pending",
		})
	} else {
		res.to(StateLedgerWritten)
	}

	redirect, checkoutID, err := s.checkout.CreateCheckout(ctx, quote)
	if err != nil {
		zapLog.Error("checkout creation failed", zap.String("stage", "checkout"), zap.Error(err))
		s.stageFailed("checkout")
		s.report(ctx, errorreport.SeverityError, "CHECKOUT_FAILED", bulkEndpoint, err, map[string]interface{}{
			"session_id": sub.SessionID,
			"total":      quote.Total.StringFixed(2),
			"stage":      "checkout",
		})
		res.to(StateErrored)
		return payment.BulkQuote{}, errutil.BadGateway("checkout creation failed", err)
	}
	quote.RedirectURL = redirect
	quote.CheckoutSessionID = checkoutID

	res.to(StateDone)
	zapLog.Info("bulk checkout opened",
		zap.Int("items", quote.ItemCount),
		zap.String("total", quote.Total.StringFixed(2)),
		zap.String("checkout_session_id", checkoutID),
	)
	return quote, nil
}

// handleBulkPayment closes a bulk run once its checkout is paid.
func (s *Service) handleBulkPayment(ctx context.Context, evt payment.PaymentEvent, res Result, zapLog *zap.Logger) (Result, error) {
	bulkID := evt.BulkSessionID()
	zapLog = zapLog.With(zap.String("bulk_session_id", bulkID))

	if err := s.ledger.RecordSale(ctx, evt); err != nil {
		zapLog.Error("sales row write failed", zap.String("stage", "ledger_sale"), zap.Error(err))
		s.stageFailed("ledger_sale")
		s.report(ctx, errorreport.SeverityCritical, "LEDGER_SALE_FAILED", webhookEndpoint, err, map[string]interface{}{
			"session_id":      evt.ID,
			"bulk_session_id": bulkID,
			"mode":            string(evt.Mode),
			"amount":          evt.Amount().StringFixed(2),
			"stage":           "ledger_sale",
		})
	} else {
		res.to(StateLedgerWritten)
	}

	pending := newProgress(s.ledger, bulkID, s.metrics, zapLog)
	pending.recorded(ledger.StatusSubmitted)
	pending.advance(ctx, ledger.StatusUpdate{Status: ledger.StatusPaid})

	notified := false
	if s.notifier != nil {
		notified = s.notify(ctx, notification.Notification{
			ToEmail:    evt.Customer.Email,
			ToName:     evt.Customer.Name,
			TemplateID: s.notifier.BulkTemplateID(),
			Data: map[string]interface{}{
				"customer_name": evt.Customer.Name,
				"session_id":    bulkID,
				"amount":        evt.Amount().StringFixed(2),
				"currency":      evt.Currency,
				"item_count":    evt.Metadata["item_count"],
				"mode":          string(evt.Mode),
			},
		}, zapLog)
	}
	if notified {
		res.to(StateNotified)
	}

	if s.publish(ctx, publisher.FulfillmentMessage{
		SessionID:     bulkID,
		EventID:       evt.EventID,
		Kind:          "bulk",
		Mode:          string(evt.Mode),
		CustomerEmail: evt.Customer.Email,
		ItemCount:     cast.ToInt(evt.Metadata["item_count"]),
	}, zapLog) {
		res.to(StatePublished)
	}

	res.to(StateDone)
	zapLog.Info("bulk payment fulfilled")
	return res, nil
}
