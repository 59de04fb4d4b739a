package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openbooks/bankrec/internal/config"
	"github.com/openbooks/bankrec/internal/database"
	"github.com/openbooks/bankrec/internal/drafts"
	"github.com/openbooks/bankrec/internal/ledger/dbfstore"
	"github.com/openbooks/bankrec/internal/logger"
	"github.com/openbooks/bankrec/internal/recon"
	"github.com/openbooks/bankrec/internal/reports"
	"github.com/openbooks/bankrec/internal/statement"
)

func main() {
	var (
		companyID     = flag.String("company", "", "company identifier (default from config)")
		accountCode   = flag.String("account", "", "ledger account code (default from config)")
		dataDir       = flag.String("data", "", "ERP data directory holding the DBF tables (default from config)")
		statementPath = flag.String("statement", "", "path to the parsed statement CSV")
		dateFrom      = flag.String("from", "", "ledger window start (2006-01-02); defaults to the earliest statement date")
		dateTo        = flag.String("to", "", "ledger window end (2006-01-02); defaults to the latest statement date")
		finalize      = flag.Bool("finalize", false, "persist matched entries back to the ERP")
		reportDir     = flag.String("report", "", "directory to write a PDF reconciliation report to")
		user          = flag.String("user", "", "user name recorded on drafts")
	)
	flag.Parse()

	cfg := config.GetConfig()
	if *companyID == "" {
		*companyID = cfg.Settings.CompanyID
	}
	if *accountCode == "" {
		*accountCode = cfg.Settings.DefaultAccount
	}
	if *dataDir == "" {
		*dataDir = cfg.Settings.DataDirectory
	}

	if *statementPath == "" || *companyID == "" || *accountCode == "" || *dataDir == "" {
		fmt.Fprintln(os.Stderr, "bankrec: -statement, -company, -account and -data are required (the last three may come from config)")
		flag.Usage()
		os.Exit(2)
	}

	if err := logger.Initialize(*dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "bankrec: failed to initialize logging: %v\n", err)
	}
	defer logger.Close()
	defer logger.RecoverPanic("main")

	if err := run(*companyID, *accountCode, *dataDir, *statementPath, *dateFrom, *dateTo, *finalize, *reportDir, *user); err != nil {
		logger.WriteError("main", err.Error())
		fmt.Fprintf(os.Stderr, "bankrec: %v\n", err)
		os.Exit(1)
	}
}

func run(companyID, accountCode, dataDir, statementPath, dateFrom, dateTo string, finalize bool, reportDir, user string) error {
	ctx := context.Background()

	stmt, err := statement.ParseFile(statementPath)
	if err != nil {
		return fmt.Errorf("failed to load statement: %w", err)
	}
	fmt.Printf("Loaded statement %s: %d transactions\n", stmt.BatchID, len(stmt.Transactions))
	if stmt.HasClosingBalance {
		fmt.Printf("Closing balance: %s\n", stmt.ClosingBalance.StringFixed())
	}

	from, to, err := ledgerWindow(stmt, dateFrom, dateTo)
	if err != nil {
		return err
	}

	store := dbfstore.New(dataDir)
	session := recon.NewSession(stmt, store, store, companyID, accountCode)

	if err := session.LoadLedger(ctx, from, to); err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	fmt.Printf("Ledger window %s..%s: %d entries\n", from.Format("2006-01-02"), to.Format("2006-01-02"), len(session.Entries()))
	fmt.Printf("Auto-matched groups: %d\n", len(session.Groups()))
	for _, tx := range session.UnmatchedTransactions() {
		fmt.Printf("  unmatched statement: %s %s %s %q\n",
			tx.ID, tx.Date.Format("2006-01-02"), tx.Amount.StringFixed(), tx.Description)
	}

	db, err := database.New(filepath.Join(dataDir, "sql", "bankrec.db"))
	if err != nil {
		return fmt.Errorf("failed to open local database: %w", err)
	}
	defer db.Close()
	draftSvc := drafts.NewService(db)

	draft, err := draftSvc.SaveDraft(drafts.SaveDraftRequest{
		CompanyID:      companyID,
		AccountCode:    accountCode,
		StatementBatch: stmt.BatchID,
		MatchGroups:    session.Groups(),
		CreatedBy:      user,
	})
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}

	var report *recon.Report
	if finalize {
		report, err = session.Finalize(ctx)
		if err != nil && report == nil {
			return fmt.Errorf("finalize failed: %w", err)
		}
		if err != nil {
			// Writes happened but the reload after them failed; the report
			// is still worth showing.
			fmt.Fprintf(os.Stderr, "bankrec: %v\n", err)
		}

		if report.NothingToDo {
			fmt.Println("Finalize: nothing to process")
		} else {
			fmt.Printf("Finalize: %d succeeded, %d failed\n", report.Succeeded, report.Failed)
			for _, item := range report.Items {
				if item.Err != nil {
					fmt.Printf("  entry %d (%s): %v\n", item.RemoteID, item.DocumentNumber, item.Err)
				}
			}
		}

		if !report.NothingToDo && report.Failed == 0 {
			if err := draftSvc.Commit(draft.ID); err != nil {
				return fmt.Errorf("failed to commit draft: %w", err)
			}
			fmt.Println("Draft committed")
		}
	}

	if reportDir != "" {
		generator := reports.NewPDFGenerator(companyID)
		path, err := generator.GenerateReconciliationPDF(reportDir, accountCode, session, report)
		if err != nil {
			return fmt.Errorf("failed to generate report: %w", err)
		}
		fmt.Printf("Report written to %s\n", path)
	}

	return nil
}

// ledgerWindow resolves the fetch range, defaulting to the statement's own
// date span.
func ledgerWindow(stmt *statement.Statement, dateFrom, dateTo string) (time.Time, time.Time, error) {
	var from, to time.Time

	if dateFrom != "" {
		parsed, err := time.Parse("2006-01-02", dateFrom)
		if err != nil {
			return from, to, fmt.Errorf("invalid -from date %q: %w", dateFrom, err)
		}
		from = parsed
	}
	if dateTo != "" {
		parsed, err := time.Parse("2006-01-02", dateTo)
		if err != nil {
			return from, to, fmt.Errorf("invalid -to date %q: %w", dateTo, err)
		}
		to = parsed
	}

	for _, tx := range stmt.Transactions {
		if dateFrom == "" && (from.IsZero() || tx.Date.Before(from)) {
			from = tx.Date
		}
		if dateTo == "" && (to.IsZero() || tx.Date.After(to)) {
			to = tx.Date
		}
	}

	if from.IsZero() || to.IsZero() {
		return from, to, fmt.Errorf("statement has no transactions and no explicit date range was given")
	}
	return from, to, nil
}
