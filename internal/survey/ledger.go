package survey

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
)

const ledgerSheet = "Requests"

var ledgerHeaders = []string{"Received", "Date", "Email", "Phone", "Message", "File"}

// Ledger appends every survey request to a spreadsheet operators can open
// without touching the storage tree.
type Ledger struct {
	path string
	mu   sync.Mutex
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) Path() string { return l.path }

// Append adds one row for req.
func (l *Ledger) Append(req Request, file string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(ledgerSheet)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return err
	}
	row := []any{
		req.CreatedAt.Format(time.DateTime),
		req.CreatedAt.Format(time.DateOnly),
		req.Email,
		req.Phone,
		req.Message,
		file,
	}
	if err := f.SetSheetRow(ledgerSheet, cell, &row); err != nil {
		return fmt.Errorf("write ledger row: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	if err := f.SaveAs(l.path); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// Rows returns the recorded rows without the header.
func (l *Ledger) Rows() ([][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := excelize.OpenFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(ledgerSheet)
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

func (l *Ledger) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(l.path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	f = excelize.NewFile()
	idx, err := f.NewSheet(ledgerSheet)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	header := make([]any, len(ledgerHeaders))
	for i, h := range ledgerHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(ledgerSheet, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}
