package fulfillment

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"strings"
	"sync"
	"testing"

	"appraisal-fulfillment/pkg/metrics"
	"appraisal-fulfillment/services/content"
	"appraisal-fulfillment/services/errorreport"
	"appraisal-fulfillment/services/ledger"
	"appraisal-fulfillment/services/media"
	"appraisal-fulfillment/services/notification"
	"appraisal-fulfillment/services/payment"
	"appraisal-fulfillment/services/publisher"

	"github.com/disintegration/imaging"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(64, 48, color.NRGBA{R: 20, G: 120, B: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

type ledgerFake struct {
	mu        sync.Mutex
	sales     []payment.PaymentEvent
	pending   []ledger.PendingSummary
	updates   map[string][]ledger.StatusUpdate
	saleErr   error
	pendErr   error
	dupHook   func()
	dupChecks int
}

func newLedgerFake() *ledgerFake {
	return &ledgerFake{updates: map[string][]ledger.StatusUpdate{}}
}

func (l *ledgerFake) IsDuplicate(_ context.Context, sessionID string) (bool, error) {
	l.mu.Lock()
	l.dupChecks++
	hook := l.dupHook
	l.mu.Unlock()
	if hook != nil {
		hook()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.sales {
		if s.ID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (l *ledgerFake) RecordSale(_ context.Context, evt payment.PaymentEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.saleErr != nil {
		return l.saleErr
	}
	l.sales = append(l.sales, evt)
	return nil
}

func (l *ledgerFake) RecordPendingFulfillment(_ context.Context, sum ledger.PendingSummary) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pendErr != nil {
		return l.pendErr
	}
	l.pending = append(l.pending, sum)
	return nil
}

func (l *ledgerFake) HasPending(_ context.Context, sessionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.pending {
		if p.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (l *ledgerFake) UpdateStatus(_ context.Context, sessionID string, u ledger.StatusUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates[sessionID] = append(l.updates[sessionID], u)
	return nil
}

// statuses lists the status values written for sessionID in order.
func (l *ledgerFake) statuses(sessionID string) []ledger.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Status
	for _, u := range l.updates[sessionID] {
		if u.Status != "" {
			out = append(out, u.Status)
		}
	}
	return out
}

func (l *ledgerFake) last(sessionID string, field func(ledger.StatusUpdate) string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := ""
	for _, u := range l.updates[sessionID] {
		if f := field(u); f != "" {
			v = f
		}
	}
	return v
}

type contentFake struct {
	mu        sync.Mutex
	createFn  func(ctx context.Context, d content.Draft) (content.ContentRecord, error)
	drafts    []content.Draft
	attached  []content.MediaFields
	customers []map[string]interface{}
	finalized []map[string]interface{}
	attachErr error
	finalErr  error
}

func okContent() *contentFake {
	return &contentFake{createFn: func(_ context.Context, d content.Draft) (content.ContentRecord, error) {
		return content.ContentRecord{
			ID:      42,
			EditURL: "https://cms.example.com/wp-admin/post.php?post=42&action=edit",
			Status:  content.StatusDraft,
			Meta:    content.InitialMeta(d),
		}, nil
	}}
}

func (c *contentFake) CreateDraft(ctx context.Context, d content.Draft) (content.ContentRecord, error) {
	c.mu.Lock()
	c.drafts = append(c.drafts, d)
	c.mu.Unlock()
	return c.createFn(ctx, d)
}

func (c *contentFake) AttachMedia(_ context.Context, _ int64, m content.MediaFields, customer map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached = append(c.attached, m)
	c.customers = append(c.customers, customer)
	return c.attachErr
}

func (c *contentFake) Finalize(_ context.Context, _ int64, fields map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = append(c.finalized, fields)
	return c.finalErr
}

type notifierFake struct {
	mu   sync.Mutex
	sent []notification.Notification
	err  error
}

func (n *notifierFake) Send(_ context.Context, msg notification.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *notifierFake) BulkTemplateID() string { return "d-bulk" }

type publisherFake struct {
	mu   sync.Mutex
	msgs []publisher.FulfillmentMessage
	err  error
}

func (p *publisherFake) Publish(_ context.Context, msg publisher.FulfillmentMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type reporterFake struct {
	mu      sync.Mutex
	entries []errorreport.Entry
}

func (r *reporterFake) Report(_ context.Context, e errorreport.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *reporterFake) codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		out = append(out, e.ErrorCode)
	}
	return out
}

type enqueuerFake struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (e *enqueuerFake) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, t)
	return &asynq.TaskInfo{ID: "retry-1"}, nil
}

type uploaderFake struct {
	failFor media.AssetKey
}

func (u *uploaderFake) UploadMedia(_ context.Context, filename, _ string, _ []byte) (content.MediaRef, error) {
	if u.failFor != "" && strings.Contains(filename, string(u.failFor)) {
		return content.MediaRef{}, errors.New("cms media: status 500")
	}
	return content.MediaRef{ID: int64(len(filename)), URL: "https://cms.example.com/uploads/" + filename}, nil
}

type backupFake struct {
	mu    sync.Mutex
	keys  []string
	putFn func(key string) error
}

func (b *backupFake) Put(_ context.Context, key, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	b.keys = append(b.keys, key)
	b.mu.Unlock()
	if b.putFn != nil {
		if err := b.putFn(key); err != nil {
			return "", err
		}
	}
	return b.URL(key), nil
}

func (b *backupFake) URL(key string) string { return "https://backup.example.com/bucket/" + key }

type objectsFake struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (o *objectsFake) Put(_ context.Context, key, _ string, _ []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return "", o.err
	}
	o.keys = append(o.keys, key)
	return "https://backup.example.com/bucket/" + key, nil
}

type sessionsFake struct {
	params []*stripe.CheckoutSessionParams
}

func (s *sessionsFake) New(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.params = append(s.params, p)
	return &stripe.CheckoutSession{ID: "cs_bulk_1", URL: "https://checkout.stripe.com/c/pay/cs_bulk_1"}, nil
}

type harness struct {
	svc       *Service
	ledger    *ledgerFake
	content   *contentFake
	notifier  *notifierFake
	publisher *publisherFake
	reporter  *reporterFake
	enqueuer  *enqueuerFake
	uploader  *uploaderFake
	backup    *backupFake
	objects   *objectsFake
	sessions  *sessionsFake
}

// finishedBackup waits for the backup before handing it back.
type finishedBackup struct{ MediaPipeline }

func (f finishedBackup) StartBackup(ctx context.Context, sessionID string, files map[media.AssetKey]media.File) *media.BackupHandle {
	h := f.MediaPipeline.StartBackup(ctx, sessionID, files)
	h.Wait()
	return h
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ledger:    newLedgerFake(),
		content:   okContent(),
		notifier:  &notifierFake{},
		publisher: &publisherFake{},
		reporter:  &reporterFake{},
		enqueuer:  &enqueuerFake{},
		uploader:  &uploaderFake{},
		backup:    &backupFake{},
		objects:   &objectsFake{},
		sessions:  &sessionsFake{},
	}
	h.build()
	return h
}

// build wires the service from the current fakes.
func (h *harness) build() {
	m := metrics.NewNop()
	pipeline := media.NewPipeline(media.NewNormalizer(nil, 256, 80), h.uploader, h.backup, "submissions", m)
	checkout := payment.NewCheckoutCreatorWith(h.sessions, payment.ModeTest, "https://example.com/ok", "https://example.com/cancel", payment.Pricing{
		Currency:     "usd",
		UnitPrice:    decimal.RequireFromString("59.00"),
		DiscountFrom: 3,
		DiscountPct:  decimal.NewFromInt(10),
		ProductName:  "Bulk Appraisal",
		MaxItems:     10,
	})

	h.svc = New(Dependencies{
		Ledger:    h.ledger,
		Content:   h.content,
		Media:     pipeline,
		Notifier:  h.notifier,
		Publisher: h.publisher,
		Reporter:  h.reporter,
		Objects:   h.objects,
		Checkout:  checkout,
		Enqueuer:  h.enqueuer,
		Metrics:   m,
		Tracer:    noop.NewTracerProvider().Tracer("fulfillment-test"),
	}, Options{ProductName: "Appraisal", BulkProductName: "Bulk Appraisal", BulkPrefix: "bulk"})
}
