package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/models/reports"
	"github.com/mmdatafocus/packing_backend/utils"
	"github.com/mmdatafocus/packing_backend/workflow"
)

// ledger-export writes the ledger of one material over [start, end) to an
// xlsx file, and optionally uploads it to the reports bucket.
func main() {
	materialID := flag.Int("material", 0, "Required: material id")
	startStr := flag.String("start", "", "Required: first day (YYYY-MM-DD)")
	endStr := flag.String("end", "", "Required: day after the last day (YYYY-MM-DD)")
	out := flag.String("out", "", "Optional: output file (default: ledger_<id>_<start>_<end>.xlsx)")
	upload := flag.Bool("gcs", false, "Also upload the workbook to GCS_BUCKET")
	flag.Parse()

	if *materialID <= 0 || strings.TrimSpace(*startStr) == "" || strings.TrimSpace(*endStr) == "" {
		fmt.Fprintln(os.Stderr, "--material, --start and --end are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	appConfig, err := config.LoadAppConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	loc, err := appConfig.Schedule.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "timezone: %v\n", err)
		os.Exit(1)
	}
	start, err := time.ParseInLocation(utils.DayLayout, strings.TrimSpace(*startStr), loc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid start: %v\n", err)
		os.Exit(1)
	}
	end, err := time.ParseInLocation(utils.DayLayout, strings.TrimSpace(*endStr), loc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid end: %v\n", err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	// Reads only; the in-process locker is enough.
	engine := workflow.NewStockEngine(db, config.GetLogger(), nil, loc)

	report, err := engine.ReportRange(ctx, *materialID, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		os.Exit(1)
	}
	entries, err := engine.LedgerEntries(ctx, *materialID, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "entries: %v\n", err)
		os.Exit(1)
	}
	var buf bytes.Buffer
	if err := reports.WriteLedger(&buf, report, entries); err != nil {
		fmt.Fprintf(os.Stderr, "build workbook: %v\n", err)
		os.Exit(1)
	}

	filename := *out
	if filename == "" {
		filename = reports.LedgerExportFilename(report)
	}
	if err := os.WriteFile(filename, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", filename, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d rows)\n", filename, len(entries))

	if *upload {
		objectName := path.Join("ledger", path.Base(filename))
		url, err := utils.UploadReportToGCS(ctx, objectName, reports.XLSXContentType, buf.Bytes())
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("uploaded %s\n", url)
	}
}
