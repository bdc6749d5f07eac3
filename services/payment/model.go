package payment

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mode is the credential set that verified an event.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

func (m Mode) Live() bool { return m == ModeLive }

// BulkReferencePrefix marks a checkout that covers several items.
const BulkReferencePrefix = "bulk_"

// EventCheckoutCompleted is the only event type that drives fulfillment.
const EventCheckoutCompleted = "checkout.session.completed"

type Customer struct {
	Email      string
	Name       string
	ExternalID string
}

// PaymentEvent is immutable once verified.
type PaymentEvent struct {
	// ID is the checkout session id, the idempotency key across the pipeline.
	ID                string
	EventID           string
	Type              string
	Mode              Mode
	Customer          Customer
	AmountMinorUnits  int64
	Currency          string
	CreatedAt         time.Time
	ProductRef        string
	ClientReferenceID string
	PaymentIntentID   string
	Metadata          map[string]string
}

func (e PaymentEvent) IsBulk() bool {
	return strings.HasPrefix(e.ClientReferenceID, BulkReferencePrefix)
}

// Fulfillable reports whether the event should start a fulfillment run.
func (e PaymentEvent) Fulfillable() bool {
	return e.Type == EventCheckoutCompleted
}

// BulkSessionID strips the bulk prefix from the client reference id.
func (e PaymentEvent) BulkSessionID() string {
	return strings.TrimPrefix(e.ClientReferenceID, BulkReferencePrefix)
}

// Amount converts minor units to a decimal in the event currency.
func (e PaymentEvent) Amount() decimal.Decimal {
	return decimal.New(e.AmountMinorUnits, -currencyExponent(e.Currency))
}

// ToMinorUnits is the inverse of Amount.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(currencyExponent(currency)).Round(0).IntPart()
}

var zeroDecimal = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

func currencyExponent(currency string) int32 {
	if _, ok := zeroDecimal[strings.ToLower(currency)]; ok {
		return 0
	}
	return 2
}

// BulkQuote is the priced checkout for a bulk submission.
type BulkQuote struct {
	SessionID         string
	ClientReferenceID string
	CustomerEmail     string
	CustomerName      string
	ItemCount         int
	Currency          string
	UnitPrice         decimal.Decimal
	Subtotal          decimal.Decimal
	Discount          decimal.Decimal
	Total             decimal.Decimal
	Mode              Mode
	RedirectURL       string
	CheckoutSessionID string
}
