package fulfillment

import (
	"context"
	"errors"
	"time"

	"appraisal-fulfillment/pkg/config"
	"appraisal-fulfillment/pkg/metrics"
	"appraisal-fulfillment/pkg/minio"
	"appraisal-fulfillment/pkg/task"
	"appraisal-fulfillment/services/content"
	"appraisal-fulfillment/services/errorreport"
	"appraisal-fulfillment/services/ledger"
	"appraisal-fulfillment/services/media"
	"appraisal-fulfillment/services/notification"
	"appraisal-fulfillment/services/payment"
	"appraisal-fulfillment/services/publisher"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const scriptName = "fulfillment"

type Ledger interface {
	IsDuplicate(ctx context.Context, sessionID string) (bool, error)
	RecordSale(ctx context.Context, evt payment.PaymentEvent) error
	RecordPendingFulfillment(ctx context.Context, sum ledger.PendingSummary) error
	HasPending(ctx context.Context, sessionID string) (bool, error)
	UpdateStatus(ctx context.Context, sessionID string, u ledger.StatusUpdate) error
}

type ContentRepository interface {
	CreateDraft(ctx context.Context, d content.Draft) (content.ContentRecord, error)
	AttachMedia(ctx context.Context, id int64, m content.MediaFields, customer map[string]interface{}) error
	Finalize(ctx context.Context, id int64, fields map[string]interface{}) error
}

type MediaPipeline interface {
	StartBackup(ctx context.Context, sessionID string, files map[media.AssetKey]media.File) *media.BackupHandle
	Upload(ctx context.Context, sessionID string, files map[media.AssetKey]media.File) map[media.AssetKey]*media.Asset
}

type Notifier interface {
	Send(ctx context.Context, n notification.Notification) error
	BulkTemplateID() string
}

type EventPublisher interface {
	Publish(ctx context.Context, msg publisher.FulfillmentMessage) error
}

type ErrorReporter interface {
	Report(ctx context.Context, e errorreport.Entry)
}

// ObjectStore holds bulk items.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type Checkout interface {
	Pricing() payment.Pricing
	CreateCheckout(ctx context.Context, q payment.BulkQuote) (string, string, error)
	Mode() payment.Mode
}

type Options struct {
	ProductName     string
	BulkProductName string
	BulkPrefix      string
}

// Service drives a verified payment or an intake submission through the
// ledger, the CMS, the media pipeline and the outbound channels.
type Service struct {
	ledger    Ledger
	content   ContentRepository
	media     MediaPipeline
	notifier  Notifier
	publisher EventPublisher
	reporter  ErrorReporter
	objects   ObjectStore
	checkout  Checkout
	enqueuer  task.Enqueuer
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	opts      Options
}

type Params struct {
	fx.In

	Config    *config.Config
	Ledger    *ledger.Store
	Content   *content.Repository
	Media     *media.Pipeline
	Notifier  *notification.Sender
	Publisher *publisher.Publisher
	Reporter  *errorreport.Reporter
	Objects   *minio.Bucket
	Checkout  *payment.CheckoutCreator
	Enqueuer  task.Enqueuer `optional:"true"`
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

func NewService(p Params) *Service {
	return New(Dependencies{
		Ledger:    p.Ledger,
		Content:   p.Content,
		Media:     p.Media,
		Notifier:  p.Notifier,
		Publisher: p.Publisher,
		Reporter:  p.Reporter,
		Objects:   p.Objects,
		Checkout:  p.Checkout,
		Enqueuer:  p.Enqueuer,
		Metrics:   p.Metrics,
		Tracer:    p.Tracer,
	}, Options{
		ProductName:     p.Config.Fulfillment.ProductName,
		BulkProductName: p.Config.Payment.Bulk.ProductName,
		BulkPrefix:      p.Config.Fulfillment.BulkPrefix,
	})
}

// Dependencies are the collaborators of a Service. Enqueuer may be nil, in
// which case deferred metadata writes are only logged.
type Dependencies struct {
	Ledger    Ledger
	Content   ContentRepository
	Media     MediaPipeline
	Notifier  Notifier
	Publisher EventPublisher
	Reporter  ErrorReporter
	Objects   ObjectStore
	Checkout  Checkout
	Enqueuer  task.Enqueuer
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

func New(d Dependencies, opts Options) *Service {
	if opts.BulkPrefix == "" {
		opts.BulkPrefix = "bulk"
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	return &Service{
		ledger:    d.Ledger,
		content:   d.Content,
		media:     d.Media,
		notifier:  d.Notifier,
		publisher: d.Publisher,
		reporter:  d.Reporter,
		objects:   d.Objects,
		checkout:  d.Checkout,
		enqueuer:  d.Enqueuer,
		metrics:   d.Metrics,
		tracer:    d.Tracer,
		opts:      opts,
	}
}

// start opens the run span and the run logger.
func (s *Service) start(ctx context.Context, name, sessionID string, mode payment.Mode) (context.Context, trace.Span, *zap.Logger) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, name)
	} else {
		span = trace.SpanFromContext(ctx)
	}

	traceID := span.SpanContext().TraceID().String()
	zapLog := zap.L().With(
		zap.String("trace_id", traceID),
		zap.String("session_id", sessionID),
		zap.String("mode", string(mode)),
	)
	return ctx, span, zapLog
}

func (s *Service) observe(kind string, res *Result, started time.Time) {
	s.metrics.RunDuration.WithLabelValues(kind, string(res.Final())).Observe(time.Since(started).Seconds())
}

func (s *Service) stageFailed(stage string) {
	s.metrics.StageFailures.WithLabelValues(stage).Inc()
}

func (s *Service) report(ctx context.Context, severity errorreport.Severity, code, endpoint string, err error, fields map[string]interface{}) {
	if s.reporter == nil {
		return
	}
	s.reporter.Report(ctx, errorreport.Entry{
		Severity:   severity,
		ScriptName: scriptName,
		ErrorCode:  code,
		Message:    err.Error(),
		Endpoint:   endpoint,
		Context:    fields,
	})
}

// notify is best-effort.
func (s *Service) notify(ctx context.Context, n notification.Notification, zapLog *zap.Logger) bool {
	if s.notifier == nil {
		return false
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		zapLog.Error("notification failed", zap.String("stage", "notify"), zap.Error(err))
		s.stageFailed("notify")
		return false
	}
	return true
}

// publish is best-effort.
func (s *Service) publish(ctx context.Context, msg publisher.FulfillmentMessage, zapLog *zap.Logger) bool {
	if s.publisher == nil {
		return false
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, publisher.ErrDisabled) {
			zapLog.Debug("publisher disabled, skipping")
			return false
		}
		zapLog.Error("publish failed", zap.String("stage", "publish"), zap.Error(err))
		s.stageFailed("publish")
		return false
	}
	return true
}

// deferMetadata hands metadata that could not be written during the run to
// the retry worker.
func (s *Service) deferMetadata(ctx context.Context, rec content.ContentRecord, sessionID string, fields map[string]interface{}, zapLog *zap.Logger) {
	if len(fields) == 0 {
		return
	}
	if s.enqueuer == nil {
		zapLog.Warn("no retry queue, metadata left at creation defaults",
			zap.String("stage", "cms_metadata_retry"),
			zap.Int64("post_id", rec.ID),
		)
		return
	}

	t, err := content.NewRetryMetadataTask(content.RetryMetadataPayload{
		PostID:    rec.ID,
		SessionID: sessionID,
		Fields:    fields,
	})
	if err == nil {
		_, err = s.enqueuer.Enqueue(context.WithoutCancel(ctx), t)
	}
	if err != nil {
		zapLog.Error("enqueue metadata retry failed",
			zap.String("stage", "cms_metadata_retry"),
			zap.Int64("post_id", rec.ID),
			zap.Error(err),
		)
		s.stageFailed("cms_metadata_retry")
		return
	}
	zapLog.Info("metadata retry enqueued", zap.Int64("post_id", rec.ID), zap.Int("fields", len(fields)))
}

func merge(dst map[string]interface{}, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
