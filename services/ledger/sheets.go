package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsBackend talks to the Google Sheets values API.
type SheetsBackend struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheetID string
}

func NewSheetsBackend(ctx context.Context, spreadsheetID, credentialsFile string, opts ...option.ClientOption) (*SheetsBackend, error) {
	if len(opts) == 0 {
		opts = append(opts, option.WithScopes(sheets.SpreadsheetsScope))
		if credentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(credentialsFile))
		}
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsBackend{values: svc.Spreadsheets.Values, spreadsheetID: spreadsheetID}, nil
}

func (b *SheetsBackend) Column(ctx context.Context, sheet string, col int) ([]string, error) {
	letter, err := columnName(col)
	if err != nil {
		return nil, err
	}

	resp, err := b.values.Get(b.spreadsheetID, a1(sheet, letter+":"+letter)).
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read %s!%s: %w", sheet, letter, err)
	}

	out := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			out[i] = cast.ToString(row[0])
		}
	}
	return out, nil
}

func (b *SheetsBackend) Append(ctx context.Context, sheet string, row []interface{}) error {
	_, err := b.values.Append(b.spreadsheetID, a1(sheet, "A1"), &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}
	return nil
}

func (b *SheetsBackend) Update(ctx context.Context, sheet string, row, fromCol int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(fromCol+1, row+1)
	if err != nil {
		return err
	}

	_, err = b.values.Update(b.spreadsheetID, a1(sheet, cell), &sheets.ValueRange{Values: [][]interface{}{values}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s!%s: %w", sheet, cell, err)
	}
	return nil
}

func a1(sheet, ref string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + ref
}

func columnName(col int) (string, error) {
	return excelize.ColumnNumberToName(col + 1)
}
