// Package google writes ledger exports to a Google Sheets spreadsheet
// using a service account.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"capitalguard/internal/log"
	"capitalguard/internal/sheets"
)

// Config selects the spreadsheet and credentials.
type Config struct {
	SpreadsheetID   string
	SheetName       string // base name, the record's year is prefixed
	CredentialsJSON string
	CredentialsFile string

	// Endpoint overrides the API base URL and disables authentication.
	// Only used against local fakes.
	Endpoint string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger
}

var (
	_ sheets.RowWriter = (*Client)(nil)
	_ sheets.RowReader = (*Client)(nil)
)

func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if logger == nil {
		logger = log.Default(log.ComponentSheets)
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Ledger"
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetBase:     base,
		logger:        logger.WithComponent(log.ComponentSheets),
	}, nil
}

// newSheetsService authenticates with service account credentials given
// inline, by file, or via GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	if cfg.Endpoint != "" {
		return gsheet.NewService(ctx,
			goption.WithEndpoint(cfg.Endpoint),
			goption.WithoutAuthentication())
	}

	file := strings.TrimSpace(cfg.CredentialsFile)
	if cfg.CredentialsJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case cfg.CredentialsJSON != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendRows appends rows to the sheet of their year, one API call per
// sheet.
func (c *Client) AppendRows(ctx context.Context, rows []sheets.Row) error {
	byYear := make(map[int][][]any)
	for _, r := range rows {
		year := r.Date.UTC().Year()
		byYear[year] = append(byYear[year], r.Values())
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	for _, year := range years {
		sheet := yearPrefixedName(c.sheetBase, year)
		rng := fmt.Sprintf("'%s'!A:H", sheet)
		vr := &gsheet.ValueRange{Values: byYear[year]}
		resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("append to %s: %w", sheet, err)
		}
		updated := ""
		if resp.Updates != nil {
			updated = resp.Updates.UpdatedRange
		}
		c.logger.InfoContext(ctx, "Rows appended to sheet",
			"sheet", sheet,
			"rows", len(byYear[year]),
			"updated_range", updated,
			log.FieldOperation, log.OpExport)
	}
	return nil
}

// ExportedTransactionIDs reads the Transaction column of every year sheet
// this client writes to.
func (c *Client) ExportedTransactionIDs(ctx context.Context) (map[string]struct{}, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	var ranges []string
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && isExportSheet(sh.Properties.Title, c.sheetBase) {
			ranges = append(ranges, fmt.Sprintf("'%s'!G:G", sh.Properties.Title))
		}
	}

	ids := make(map[string]struct{})
	if len(ranges) == 0 {
		return ids, nil
	}
	resp, err := c.svc.Spreadsheets.Values.BatchGet(c.spreadsheetID).
		Ranges(ranges...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read transaction column: %w", err)
	}
	for _, vr := range resp.ValueRanges {
		for _, row := range vr.Values {
			if len(row) == 0 {
				continue
			}
			id := strings.TrimSpace(fmt.Sprint(row[0]))
			if id == "" || id == transactionHeader {
				continue
			}
			ids[id] = struct{}{}
		}
	}
	c.logger.DebugContext(ctx, "Read exported transactions",
		"sheets", len(ranges),
		"rows", len(ids),
		log.FieldOperation, log.OpExport)
	return ids, nil
}

var transactionHeader = fmt.Sprint(sheets.Header[6])

// isExportSheet reports whether title is a sheet AppendRows could have
// written for base.
func isExportSheet(title, base string) bool {
	title, base = strings.TrimSpace(title), strings.TrimSpace(base)
	if base == "" {
		return false
	}
	if yearPrefixedName(base, 0) == base {
		return title == base
	}
	if len(title) < 6 || title[4] != ' ' || title[5:] != base {
		return false
	}
	y, err := strconv.Atoi(title[0:4])
	return err == nil && y > 1900 && y < 3000
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
