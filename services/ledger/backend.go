package ledger

import (
	"context"
	"fmt"

	"appraisal-fulfillment/pkg/config"
)

// Backend is a spreadsheet-like row store. Row and column indexes are
// zero-based; row 0 is the header.
type Backend interface {
	Column(ctx context.Context, sheet string, col int) ([]string, error)
	Append(ctx context.Context, sheet string, row []interface{}) error
	Update(ctx context.Context, sheet string, row, fromCol int, values []interface{}) error
}

func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.Ledger.Driver {
	case "sheets":
		return NewSheetsBackend(context.Background(), cfg.Ledger.SpreadsheetID, cfg.Ledger.CredentialsFile)
	case "xlsx":
		return NewWorkbookBackend(cfg.Ledger.WorkbookPath)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Ledger.Driver)
	}
}
