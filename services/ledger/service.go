package ledger

import (
	"context"
	"fmt"
	"time"

	"appraisal-fulfillment/pkg/config"
	"appraisal-fulfillment/services/payment"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Sheets struct {
	Sales   string
	Pending string
	Errors  string
}

// Store is the ledger. Lookups are linear scans over the session id column.
type Store struct {
	backend Backend
	sheets  Sheets
	cache   SeenCache
}

type StoreParams struct {
	fx.In
	Config  *config.Config
	Backend Backend
	Cache   SeenCache `optional:"true"`
}

func NewService(p StoreParams) *Store {
	return NewStore(p.Backend, Sheets{
		Sales:   p.Config.Ledger.SalesSheet,
		Pending: p.Config.Ledger.PendingSheet,
		Errors:  p.Config.Ledger.ErrorSheet,
	}, p.Cache)
}

func NewStore(backend Backend, sheets Sheets, cache SeenCache) *Store {
	return &Store{backend: backend, sheets: sheets, cache: cache}
}

// EnsureHeaders writes the header row into any empty sheet.
func (s *Store) EnsureHeaders(ctx context.Context) error {
	for sheet, header := range map[string][]string{
		s.sheets.Sales:   SalesHeader,
		s.sheets.Pending: PendingHeader,
		s.sheets.Errors:  ErrorHeader,
	} {
		col, err := s.backend.Column(ctx, sheet, 0)
		if err != nil {
			return err
		}
		if len(col) > 0 {
			continue
		}
		row := make([]interface{}, len(header))
		for i, h := range header {
			row[i] = h
		}
		if err := s.backend.Append(ctx, sheet, row); err != nil {
			return err
		}
	}
	return nil
}

// IsDuplicate reports whether a sales row already exists for sessionID.
func (s *Store) IsDuplicate(ctx context.Context, sessionID string) (bool, error) {
	if s.cache != nil {
		seen, err := s.cache.Seen(ctx, sessionID)
		if err != nil {
			zap.L().Warn("seen cache lookup failed, scanning sheet", zap.String("session_id", sessionID), zap.Error(err))
		} else if seen {
			return true, nil
		}
	}

	row, err := s.find(ctx, s.sheets.Sales, salesColSessionID, sessionID)
	if err != nil {
		return false, err
	}
	if row < 0 {
		return false, nil
	}
	s.mark(ctx, sessionID)
	return true, nil
}

// RecordSale appends the sales row for evt. Callers check IsDuplicate first.
func (s *Store) RecordSale(ctx context.Context, evt payment.PaymentEvent) error {
	row := []interface{}{
		evt.ID,
		evt.PaymentIntentID,
		evt.Customer.ExternalID,
		evt.Customer.Name,
		evt.Customer.Email,
		evt.Amount().StringFixed(2),
		evt.CreatedAt.UTC().Format(DateLayout),
		string(evt.Mode),
	}
	if err := s.backend.Append(ctx, s.sheets.Sales, row); err != nil {
		return fmt.Errorf("record sale %s: %w", evt.ID, err)
	}
	s.mark(ctx, evt.ID)
	return nil
}

// RecordPendingFulfillment appends the pending row with status SUBMITTED
// unless the summary names another.
func (s *Store) RecordPendingFulfillment(ctx context.Context, sum PendingSummary) error {
	status := sum.Status
	if status == "" {
		status = StatusSubmitted
	}
	date := sum.Date
	if date.IsZero() {
		date = time.Now()
	}

	row := []interface{}{
		date.UTC().Format(DateLayout),
		sum.ProductName,
		sum.SessionID,
		sum.Email,
		sum.Name,
		string(status),
		"",
		"",
		sum.Description,
		sum.MediaURLs,
		"",
		sum.Mode,
	}
	if err := s.backend.Append(ctx, s.sheets.Pending, row); err != nil {
		return fmt.Errorf("record pending %s: %w", sum.SessionID, err)
	}
	return nil
}

func (s *Store) HasPending(ctx context.Context, sessionID string) (bool, error) {
	row, err := s.find(ctx, s.sheets.Pending, pendingColSessionID, sessionID)
	if err != nil {
		return false, err
	}
	return row >= 0, nil
}

// UpdateStatus overwrites the non-empty fields of u on the pending row for
// sessionID. A missing row is logged and ignored.
func (s *Store) UpdateStatus(ctx context.Context, sessionID string, u StatusUpdate) error {
	if u.empty() {
		return nil
	}

	row, err := s.find(ctx, s.sheets.Pending, pendingColSessionID, sessionID)
	if err != nil {
		return err
	}
	if row < 0 {
		zap.L().Warn("pending row not found, status not updated",
			zap.String("session_id", sessionID),
			zap.String("status", string(u.Status)),
		)
		return nil
	}

	for _, f := range []struct {
		col   int
		value string
	}{
		{pendingColStatus, string(u.Status)},
		{pendingColEditURL, u.EditURL},
		{pendingColMedia, u.MediaURLs},
		{pendingColBackup, u.BackupURL},
	} {
		if f.value == "" {
			continue
		}
		if err := s.backend.Update(ctx, s.sheets.Pending, row, f.col, []interface{}{f.value}); err != nil {
			return fmt.Errorf("update pending %s: %w", sessionID, err)
		}
	}
	return nil
}

// AppendErrorRow appends one error-log row.
func (s *Store) AppendErrorRow(ctx context.Context, row []interface{}) error {
	return s.backend.Append(ctx, s.sheets.Errors, row)
}

func (s *Store) find(ctx context.Context, sheet string, col int, key string) (int, error) {
	values, err := s.backend.Column(ctx, sheet, col)
	if err != nil {
		return -1, fmt.Errorf("scan %s: %w", sheet, err)
	}
	// Row 0 is the header.
	for i := 1; i < len(values); i++ {
		if values[i] == key {
			return i, nil
		}
	}
	return -1, nil
}

func (s *Store) mark(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Mark(ctx, sessionID); err != nil {
		zap.L().Warn("seen cache mark failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}
