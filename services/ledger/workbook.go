package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
)

// WorkbookBackend keeps the ledger in a local .xlsx file. Every write is
// saved before returning.
type WorkbookBackend struct {
	mu   sync.Mutex
	path string
	file *excelize.File
}

func NewWorkbookBackend(path string) (*WorkbookBackend, error) {
	var f *excelize.File
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f = excelize.NewFile()
		if err := f.SaveAs(path); err != nil {
			return nil, fmt.Errorf("create workbook %s: %w", path, err)
		}
	} else {
		if f, err = excelize.OpenFile(path); err != nil {
			return nil, fmt.Errorf("open workbook %s: %w", path, err)
		}
	}
	return &WorkbookBackend{path: path, file: f}, nil
}

func (b *WorkbookBackend) Column(_ context.Context, sheet string, col int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rows, err := b.rows(sheet)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(rows))
	for i, row := range rows {
		if col < len(row) {
			out[i] = row[col]
		}
	}
	return out, nil
}

func (b *WorkbookBackend) Append(_ context.Context, sheet string, row []interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSheet(sheet); err != nil {
		return err
	}
	rows, err := b.rows(sheet)
	if err != nil {
		return err
	}

	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return err
	}
	if err := b.file.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}
	return b.file.Save()
}

func (b *WorkbookBackend) Update(_ context.Context, sheet string, row, fromCol int, values []interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureSheet(sheet); err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(fromCol+1, row+1)
	if err != nil {
		return err
	}
	if err := b.file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("update %s!%s: %w", sheet, cell, err)
	}
	return b.file.Save()
}

func (b *WorkbookBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

func (b *WorkbookBackend) rows(sheet string) ([][]string, error) {
	idx, err := b.file.GetSheetIndex(sheet)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, nil
	}
	rows, err := b.file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}
	return rows, nil
}

func (b *WorkbookBackend) ensureSheet(sheet string) error {
	idx, err := b.file.GetSheetIndex(sheet)
	if err != nil {
		return err
	}
	if idx >= 0 {
		return nil
	}
	if _, err := b.file.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	return nil
}
