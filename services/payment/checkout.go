package payment

import (
	"context"
	"fmt"

	"appraisal-fulfillment/pkg/config"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// SessionAPI is the checkout-session surface of the stripe client.
type SessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// CheckoutCreator opens hosted checkout sessions for bulk submissions.
type CheckoutCreator struct {
	sessions   SessionAPI
	mode       Mode
	successURL string
	cancelURL  string
	pricing    Pricing
}

// Pricing is a flat unit price with a percentage discount from a quantity tier.
type Pricing struct {
	Currency     string
	UnitPrice    decimal.Decimal
	DiscountFrom int
	DiscountPct  decimal.Decimal
	ProductName  string
	MaxItems     int
}

func PricingFromConfig(cfg *config.Config) (Pricing, error) {
	b := cfg.Payment.Bulk
	unit, err := decimal.NewFromString(b.UnitPrice)
	if err != nil {
		return Pricing{}, fmt.Errorf("parse PAYMENT.BULK.UNIT_PRICE %q: %w", b.UnitPrice, err)
	}
	pct := decimal.Zero
	if b.DiscountPct != "" {
		if pct, err = decimal.NewFromString(b.DiscountPct); err != nil {
			return Pricing{}, fmt.Errorf("parse PAYMENT.BULK.DISCOUNT_PCT %q: %w", b.DiscountPct, err)
		}
	}
	return Pricing{
		Currency:     b.Currency,
		UnitPrice:    unit,
		DiscountFrom: b.DiscountFrom,
		DiscountPct:  pct,
		ProductName:  b.ProductName,
		MaxItems:     b.MaxItems,
	}, nil
}

func NewCheckoutCreator(cfg *config.Config) (*CheckoutCreator, error) {
	mode := Mode(cfg.Payment.CheckoutMode)
	if mode != ModeLive {
		mode = ModeTest
	}
	pricing, err := PricingFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	key := cfg.Payment.Credentials(mode.Live()).SecretKey
	if key == "" {
		zap.L().Warn("payment secret key not set, bulk checkout disabled", zap.String("mode", string(mode)))
		return NewCheckoutCreatorWith(nil, mode, cfg.Payment.SuccessURL, cfg.Payment.CancelURL, pricing), nil
	}

	sc := client.New(key, nil)
	return NewCheckoutCreatorWith(sc.CheckoutSessions, mode, cfg.Payment.SuccessURL, cfg.Payment.CancelURL, pricing), nil
}

func NewCheckoutCreatorWith(sessions SessionAPI, mode Mode, successURL, cancelURL string, pricing Pricing) *CheckoutCreator {
	return &CheckoutCreator{
		sessions:   sessions,
		mode:       mode,
		successURL: successURL,
		cancelURL:  cancelURL,
		pricing:    pricing,
	}
}

func (c *CheckoutCreator) Pricing() Pricing { return c.pricing }

// Quote prices items units. The discount applies once items reaches DiscountFrom.
func (p Pricing) Quote(sessionID string, items int) (BulkQuote, error) {
	if items <= 0 {
		return BulkQuote{}, fmt.Errorf("bulk quote needs at least one item")
	}
	if p.MaxItems > 0 && items > p.MaxItems {
		return BulkQuote{}, fmt.Errorf("bulk quote limited to %d items, got %d", p.MaxItems, items)
	}

	subtotal := p.UnitPrice.Mul(decimal.NewFromInt(int64(items)))
	discount := decimal.Zero
	if p.DiscountFrom > 0 && items >= p.DiscountFrom && p.DiscountPct.IsPositive() {
		discount = subtotal.Mul(p.DiscountPct).Div(decimal.NewFromInt(100)).Round(2)
	}

	return BulkQuote{
		SessionID:         sessionID,
		ClientReferenceID: BulkReferencePrefix + sessionID,
		ItemCount:         items,
		Currency:          p.Currency,
		UnitPrice:         p.UnitPrice,
		Subtotal:          subtotal,
		Discount:          discount,
		Total:             subtotal.Sub(discount),
	}, nil
}

// CreateCheckout opens a checkout session for q and returns the redirect URL
// and the checkout session id.
func (c *CheckoutCreator) CreateCheckout(ctx context.Context, q BulkQuote) (string, string, error) {
	name := fmt.Sprintf("%s (%d items)", c.pricing.ProductName, q.ItemCount)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(q.ClientReferenceID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(q.Currency),
					UnitAmount: stripe.Int64(ToMinorUnits(q.Total, q.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
			},
		},
	}
	if q.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(q.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata("session_id", q.SessionID)
	params.AddMetadata("product_name", c.pricing.ProductName)
	params.AddMetadata("item_count", fmt.Sprint(q.ItemCount))

	if c.sessions == nil {
		return "", "", fmt.Errorf("%w: %s secret key", ErrMissingCredential, c.mode)
	}

	sess, err := c.sessions.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session for %s: %w", q.SessionID, err)
	}
	return sess.URL, sess.ID, nil
}

func (c *CheckoutCreator) Mode() Mode { return c.mode }
