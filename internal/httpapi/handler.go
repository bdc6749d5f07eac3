package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"appraisal-fulfillment/pkg/background"
	"appraisal-fulfillment/pkg/config"
	"appraisal-fulfillment/pkg/errutil"
	"appraisal-fulfillment/pkg/health"
	"appraisal-fulfillment/pkg/metrics"
	"appraisal-fulfillment/pkg/middleware"
	"appraisal-fulfillment/services/fulfillment"
	"appraisal-fulfillment/services/media"
	"appraisal-fulfillment/services/payment"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewService),
	fx.Invoke(Register),
)

const (
	signatureHeader = "Stripe-Signature"
	// Webhook payloads are small; anything larger is not from the provider.
	maxWebhookBytes = 1 << 20
	multipartMemory = 32 << 20
)

type Verifier interface {
	Verify(raw []byte, header string) (payment.PaymentEvent, error)
	VerifyFor(mode payment.Mode, raw []byte, header string) (payment.PaymentEvent, error)
}

type Fulfiller interface {
	HandlePayment(ctx context.Context, evt payment.PaymentEvent) (fulfillment.Result, error)
	Submit(ctx context.Context, sub fulfillment.Submission) (fulfillment.Result, error)
	StartBulk(ctx context.Context, sub fulfillment.BulkSubmission) (payment.BulkQuote, error)
}

type Tracker interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context)) error
}

type Handler struct {
	verifier    Verifier
	fulfiller   Fulfiller
	tracker     Tracker
	defaultMode payment.Mode
	maxUpload   int64
}

type Params struct {
	fx.In
	Config      *config.Config
	Verifier    *payment.Verifier
	Fulfillment *fulfillment.Service
	Tracker     *background.Tracker
}

func NewService(p Params) *Handler {
	return NewHandler(p.Verifier, p.Fulfillment, p.Tracker, payment.Mode(p.Config.Payment.CheckoutMode), p.Config.Server.MaxUploadBytes)
}

func NewHandler(v Verifier, f Fulfiller, t Tracker, defaultMode payment.Mode, maxUpload int64) *Handler {
	if defaultMode != payment.ModeLive {
		defaultMode = payment.ModeTest
	}
	return &Handler{verifier: v, fulfiller: f, tracker: t, defaultMode: defaultMode, maxUpload: maxUpload}
}

type registerParams struct {
	fx.In
	Engine   *gin.Engine
	Handler  *Handler
	Health   health.HealthService
	Registry *prometheus.Registry
}

func Register(p registerParams) {
	p.Handler.Routes(p.Engine)
	p.Engine.GET("/healthz", p.Health.Liveness)
	p.Engine.GET("/readyz", p.Health.Readiness)
	p.Engine.GET("/metrics", gin.WrapH(metrics.Handler(p.Registry)))
}

func (h *Handler) Routes(r gin.IRouter) {
	r.POST("/webhooks/stripe", h.Webhook(""))
	r.POST("/webhooks/stripe/test", h.Webhook(payment.ModeTest))
	r.POST("/webhooks/stripe/live", h.Webhook(payment.ModeLive))
	r.POST("/submissions", h.Submit)
	r.POST("/bulk-submissions", h.Bulk)
}

// Webhook verifies the untouched body and runs the payment path. An empty
// mode tries the test credential first and falls back to live.
func (h *Handler) Webhook(mode payment.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
		if err != nil {
			_ = c.Error(bodyError(err))
			return
		}

		header := c.GetHeader(signatureHeader)
		var evt payment.PaymentEvent
		if mode == "" {
			evt, err = h.verifier.Verify(raw, header)
		} else {
			evt, err = h.verifier.VerifyFor(mode, raw, header)
		}
		if err != nil {
			_ = c.Error(verifyError(err))
			return
		}

		// The run is not tied to the provider's connection.
		ctx := context.WithoutCancel(c.Request.Context())
		res, err := h.fulfiller.HandlePayment(ctx, evt)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"received":   true,
			"session_id": res.SessionID,
			"mode":       res.Mode,
			"state":      res.Final(),
		})
	}
}

func verifyError(err error) error {
	switch {
	case errors.Is(err, payment.ErrMissingCredential):
		zap.L().Error("webhook credentials missing", zap.Error(err))
		return errutil.Internal("webhook verification is not configured", nil)
	case errors.Is(err, payment.ErrMalformedEvent):
		return errutil.BadRequest("malformed event", err)
	default:
		return errutil.Unauthorized("signature verification failed", nil)
	}
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errutil.RequestTooLarge("request body too large", nil)
	}
	return errutil.BadRequest("unreadable request body", err)
}

// Submit accepts the intake form, answers 202 and keeps working under the
// background tracker.
func (h *Handler) Submit(c *gin.Context) {
	if err := h.parseMultipart(c); err != nil {
		_ = c.Error(err)
		return
	}

	sub := fulfillment.Submission{
		SessionID:     strings.TrimSpace(c.PostForm("session_id")),
		CustomerEmail: strings.TrimSpace(c.PostForm("email")),
		CustomerName:  strings.TrimSpace(c.PostForm("name")),
		Description:   c.PostForm("description"),
		PaymentRef:    c.PostForm("payment_ref"),
		Mode:          h.mode(c.PostForm("mode")),
		Files:         map[media.AssetKey]media.File{},
	}
	for _, key := range media.AssetKeys {
		fh, err := c.FormFile(string(key))
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			_ = c.Error(errutil.BadRequest(fmt.Sprintf("unreadable %s image", key), err))
			return
		}
		f, err := readFile(fh)
		if err != nil {
			_ = c.Error(errutil.BadRequest(fmt.Sprintf("unreadable %s image", key), err))
			return
		}
		sub.Files[key] = f
	}

	if err := sub.Validate(); err != nil {
		_ = c.Error(err)
		return
	}

	requestID := c.GetString(middleware.RequestIDKey)
	err := h.tracker.Go(c.Request.Context(), "submission:"+sub.SessionID, func(ctx context.Context) {
		if _, err := h.fulfiller.Submit(ctx, sub); err != nil {
			zap.L().Error("background submission failed",
				zap.String("session_id", sub.SessionID),
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		_ = c.Error(errutil.ServiceUnavailable("shutting down", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "processing",
		"session_id": sub.SessionID,
	})
}

// Bulk stores the items and answers with the checkout redirect.
func (h *Handler) Bulk(c *gin.Context) {
	if err := h.parseMultipart(c); err != nil {
		_ = c.Error(err)
		return
	}

	sub := fulfillment.BulkSubmission{
		SessionID:     strings.TrimSpace(c.PostForm("session_id")),
		CustomerEmail: strings.TrimSpace(c.PostForm("email")),
		CustomerName:  strings.TrimSpace(c.PostForm("name")),
		Description:   c.PostForm("description"),
	}
	for _, fh := range c.Request.MultipartForm.File["items"] {
		f, err := readFile(fh)
		if err != nil {
			_ = c.Error(errutil.BadRequest("unreadable item", err))
			return
		}
		sub.Items = append(sub.Items, f)
	}

	q, err := h.fulfiller.StartBulk(c.Request.Context(), sub)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":          q.SessionID,
		"checkout_session_id": q.CheckoutSessionID,
		"redirect_url":        q.RedirectURL,
		"item_count":          q.ItemCount,
		"currency":            q.Currency,
		"subtotal":            q.Subtotal.StringFixed(2),
		"discount":            q.Discount.StringFixed(2),
		"total":               q.Total.StringFixed(2),
		"mode":                q.Mode,
	})
}

func (h *Handler) parseMultipart(c *gin.Context) error {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return errutil.UnsupportedMediaType("expected multipart/form-data", err)
		}
		return bodyError(err)
	}
	return nil
}

func (h *Handler) mode(v string) payment.Mode {
	switch payment.Mode(strings.ToLower(strings.TrimSpace(v))) {
	case payment.ModeLive:
		return payment.ModeLive
	case payment.ModeTest:
		return payment.ModeTest
	}
	return h.defaultMode
}

func readFile(fh *multipart.FileHeader) (media.File, error) {
	f, err := fh.Open()
	if err != nil {
		return media.File{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return media.File{}, err
	}
	return media.File{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
