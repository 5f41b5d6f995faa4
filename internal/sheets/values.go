// Package sheets provides the row stores behind the durable mirror: a Google
// Sheets spreadsheet for production and a directory of CSV files for local runs.
package sheets

import "context"

// Values is the spreadsheet surface the mirror needs. A sheet is one named
// tab; rows are positional, row 0 being the header when present.
type Values interface {
	// Read returns the rows of sheet. limit > 0 reads only the first limit rows.
	Read(ctx context.Context, sheet string, limit int) ([][]string, error)
	// Append adds rows after the last non-empty row of sheet in one call.
	Append(ctx context.Context, sheet string, rows [][]any) error
	// Clear removes every row, header included.
	Clear(ctx context.Context, sheet string) error
}
