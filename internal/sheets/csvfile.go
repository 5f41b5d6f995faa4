package sheets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CSVStore implements Values on a directory holding one <sheet>.csv per sheet.
type CSVStore struct {
	dir string
	mu  sync.Mutex
}

// NewCSVStore creates dir if needed.
func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create mirror dir %s: %w", dir, err)
	}
	return &CSVStore{dir: dir}, nil
}

func (s *CSVStore) path(sheet string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, sheet)
	return filepath.Join(s.dir, name+".csv")
}

func (s *CSVStore) Read(_ context.Context, sheet string, limit int) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path(sheet))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows [][]string
	for limit <= 0 || len(rows) < limit {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", sheet, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *CSVStore) Append(_ context.Context, sheet string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path(sheet), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				record[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("append to %s: %w", sheet, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}
	return f.Sync()
}

func (s *CSVStore) Clear(_ context.Context, sheet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(sheet))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

var _ Values = (*CSVStore)(nil)
