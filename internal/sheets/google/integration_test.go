//go:build integration

package google

import (
	"context"
	"os"
	"testing"
	"time"

	"capitalguard/internal/sheets"
)

// Integration tests require a real spreadsheet shared with a service account.
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_AppendRows(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}
	credsJSON := os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")
	credsFile := os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE")
	if credsJSON == "" && credsFile == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		t.Skip("service account credentials not configured, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := New(ctx, Config{
		SpreadsheetID:   spreadsheetID,
		SheetName:       os.Getenv("GOOGLE_SHEET_NAME"),
		CredentialsJSON: credsJSON,
		CredentialsFile: credsFile,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	now := time.Now().UTC()
	err = client.AppendRows(ctx, []sheets.Row{{
		Date:          now,
		UserID:        "integration-test",
		Kind:          "income",
		Category:      "Other",
		Amount:        "0.01",
		Balance:       "0.01",
		TransactionID: "it-" + now.Format("20060102150405"),
	}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}
