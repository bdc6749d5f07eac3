package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"appraisal-fulfillment/pkg/config"
	"appraisal-fulfillment/pkg/metrics"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

var (
	ErrAuthentication    = errors.New("payment: signature verification failed")
	ErrMissingCredential = errors.New("payment: missing webhook signing credential")
	ErrMalformedEvent    = errors.New("payment: malformed event payload")
)

// Verifier authenticates webhook payloads against the Test credential first
// and the Live credential on mismatch.
type Verifier struct {
	secrets   map[Mode]string
	tolerance time.Duration
	metrics   *metrics.Metrics
}

func NewVerifier(cfg *config.Config, m *metrics.Metrics) (*Verifier, error) {
	v := &Verifier{
		secrets: map[Mode]string{
			ModeTest: cfg.Payment.Test.WebhookSecret,
			ModeLive: cfg.Payment.Live.WebhookSecret,
		},
		tolerance: cfg.Payment.Tolerance,
		metrics:   m,
	}
	if v.tolerance <= 0 {
		v.tolerance = webhook.DefaultTolerance
	}
	if err := v.checkCredentials(ModeTest, ModeLive); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Verifier) checkCredentials(modes ...Mode) error {
	for _, mode := range modes {
		if v.secrets[mode] == "" {
			return fmt.Errorf("%w: %s", ErrMissingCredential, mode)
		}
	}
	return nil
}

// Verify checks raw against both credentials in order. raw must be the
// untouched request body.
func (v *Verifier) Verify(raw []byte, header string) (PaymentEvent, error) {
	return v.verify(raw, header, ModeTest, ModeLive)
}

// VerifyFor checks raw against a single credential set.
func (v *Verifier) VerifyFor(mode Mode, raw []byte, header string) (PaymentEvent, error) {
	return v.verify(raw, header, mode)
}

func (v *Verifier) verify(raw []byte, header string, order ...Mode) (PaymentEvent, error) {
	if err := v.checkCredentials(order...); err != nil {
		return PaymentEvent{}, err
	}

	var attempts []error
	for _, mode := range order {
		err := webhook.ValidatePayloadWithTolerance(raw, header, v.secrets[mode], v.tolerance)
		if err != nil {
			zap.L().Debug("signature mismatch", zap.String("mode", string(mode)), zap.Error(err))
			attempts = append(attempts, fmt.Errorf("%s: %w", mode, err))
			continue
		}

		evt, err := decodeEvent(raw, mode)
		if err != nil {
			return PaymentEvent{}, err
		}
		if v.metrics != nil {
			v.metrics.EventsVerified.WithLabelValues(string(mode)).Inc()
		}
		return evt, nil
	}

	if v.metrics != nil {
		v.metrics.AuthFailures.Inc()
	}
	return PaymentEvent{}, fmt.Errorf("%w: %w", ErrAuthentication, errors.Join(attempts...))
}

func decodeEvent(raw []byte, mode Mode) (PaymentEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	out := PaymentEvent{
		EventID:   evt.ID,
		Type:      string(evt.Type),
		Mode:      mode,
		CreatedAt: time.Unix(evt.Created, 0).UTC(),
	}
	if out.Type != EventCheckoutCompleted {
		return out, nil
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return PaymentEvent{}, fmt.Errorf("%w: missing data.object", ErrMalformedEvent)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return PaymentEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if sess.ID == "" {
		return PaymentEvent{}, fmt.Errorf("%w: checkout session without id", ErrMalformedEvent)
	}

	out.ID = sess.ID
	out.AmountMinorUnits = sess.AmountTotal
	out.Currency = string(sess.Currency)
	out.ClientReferenceID = sess.ClientReferenceID
	out.Metadata = sess.Metadata
	out.ProductRef = sess.Metadata["product_name"]
	if sess.Created > 0 {
		out.CreatedAt = time.Unix(sess.Created, 0).UTC()
	}
	if sess.CustomerDetails != nil {
		out.Customer.Email = sess.CustomerDetails.Email
		out.Customer.Name = sess.CustomerDetails.Name
	}
	if out.Customer.Email == "" {
		out.Customer.Email = sess.CustomerEmail
	}
	if sess.Customer != nil {
		out.Customer.ExternalID = sess.Customer.ID
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	return out, nil
}
