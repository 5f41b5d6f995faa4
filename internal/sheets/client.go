package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/mathieu-neron/trendsync/internal/retry"
)

// Client implements Values on one Google Sheets spreadsheet.
type Client struct {
	svc           *gsheets.Service
	spreadsheetID string
	limiter       *rate.Limiter
	RetryConfig   retry.Config
}

// New creates a Sheets client. credentials is either an inline service
// account JSON document or a path to one; empty falls back to Application
// Default Credentials.
func New(ctx context.Context, spreadsheetID, credentials string, rps float64, opts ...option.ClientOption) (*Client, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id required")
	}

	opts = append([]option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}, opts...)
	switch creds := strings.TrimSpace(credentials); {
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	case creds != "":
		opts = append(opts, option.WithCredentialsFile(creds))
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, rps), nil
}

// NewWithService wraps an existing Sheets service. rps <= 0 disables rate limiting.
func NewWithService(svc *gsheets.Service, spreadsheetID string, rps float64) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		limiter:       rate.NewLimiter(limit, 1),
		RetryConfig:   retry.DefaultConfig(),
	}
}

// quoteSheet renders a sheet name for A1 notation.
func quoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

func (c *Client) Read(ctx context.Context, sheet string, limit int) ([][]string, error) {
	rng := quoteSheet(sheet)
	if limit > 0 {
		rng = fmt.Sprintf("%s!1:%d", rng, limit)
	}

	var resp *gsheets.ValueRange
	err := retry.Do(ctx, c.RetryConfig, retry.IsTransient, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		resp, err = c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
			ValueRenderOption("UNFORMATTED_VALUE").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, len(raw))
		for i, v := range raw {
			row[i] = cellString(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// cellString renders an unformatted cell. Numbers come back as float64 and
// are printed without an exponent.
func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Append writes cells as RAW so identifiers such as "-abc" or "1e5" are
// stored as text instead of being parsed into formulas or numbers.
//
// Append is retried only when the API rejected the request outright, so a
// timed-out append is never replayed into duplicate rows.
func (c *Client) Append(ctx context.Context, sheet string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]interface{}, len(rows))
	for i, r := range rows {
		values[i] = r
	}

	err := retry.Do(ctx, c.RetryConfig, retry.IsRateLimited, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, quoteSheet(sheet), &gsheets.ValueRange{Values: values}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("append %d rows to %s: %w", len(rows), sheet, err)
	}
	return nil
}

func (c *Client) Clear(ctx context.Context, sheet string) error {
	err := retry.Do(ctx, c.RetryConfig, retry.IsTransient, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, quoteSheet(sheet), &gsheets.ClearValuesRequest{}).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("clear %s: %w", sheet, err)
	}
	return nil
}

var _ Values = (*Client)(nil)
