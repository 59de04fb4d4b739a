// Package reports renders reconciliation results to PDF.
package reports

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf/v2"

	"github.com/openbooks/bankrec/internal/currency"
	"github.com/openbooks/bankrec/internal/logger"
	"github.com/openbooks/bankrec/internal/recon"
)

// PDFGenerator handles PDF report generation
type PDFGenerator struct {
	CompanyID string
}

// NewPDFGenerator creates a new PDF generator instance
func NewPDFGenerator(companyID string) *PDFGenerator {
	return &PDFGenerator{CompanyID: companyID}
}

// GenerateReconciliationPDF writes a reconciliation report for the session
// to outputDir and returns the file path. The finalize report section is
// omitted when report is nil (nothing finalized yet).
func (g *PDFGenerator) GenerateReconciliationPDF(outputDir, accountCode string, session *recon.Session, report *recon.Report) (string, error) {
	groups := session.Groups()
	logger.WriteInfo("GenerateReconciliationPDF", fmt.Sprintf("account=%s groups=%d", accountCode, len(groups)))

	pdf := gofpdf.New("L", "mm", "Letter", "")
	pdf.SetAutoPageBreak(true, 20)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("Account: %s | Statement batch: %s", accountCode, session.Statement().BatchID), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()

	pdf.SetFillColor(240, 240, 240)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetDrawColor(200, 200, 200)

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "Bank Reconciliation Report", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 7, g.CompanyID, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 5, fmt.Sprintf("Generated: %s", time.Now().Format("January 2, 2006 at 3:04 PM")), "", 1, "C", false, 0, "")
	pdf.Ln(5)

	g.writeMatchTable(pdf, session, groups)

	if report != nil {
		pdf.Ln(8)
		g.writeFinalizeSection(pdf, report)
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(0, 0, 0)
	unmatched := session.UnmatchedTransactions()
	pdf.CellFormat(0, 6, fmt.Sprintf("Matched statement transactions: %d    Unmatched: %d",
		len(groups), len(unmatched)), "", 1, "L", false, 0, "")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	filename := fmt.Sprintf("reconciliation_%s_%s.pdf", sanitize(accountCode), time.Now().Format("20060102_150405"))
	outputPath := filepath.Join(outputDir, filename)

	if err := pdf.OutputFileAndClose(outputPath); err != nil {
		return "", fmt.Errorf("failed to write PDF: %w", err)
	}

	logger.WriteInfo("GenerateReconciliationPDF", fmt.Sprintf("wrote %s", outputPath))
	return outputPath, nil
}

func (g *PDFGenerator) writeMatchTable(pdf *gofpdf.Fpdf, session *recon.Session, groups []recon.MatchGroup) {
	colWidths := []float64{45, 28, 30, 96, 60}
	headers := []string{"Statement Txn", "Date", "Amount", "Ledger Documents", "Ledger Total"}

	writeHeader := func() {
		pdf.SetFont("Arial", "B", 10)
		pdf.SetFillColor(240, 240, 240)
		for i, header := range headers {
			pdf.CellFormat(colWidths[i], 8, header, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		pdf.SetFillColor(255, 255, 255)
	}
	writeHeader()

	rowColor := false
	for _, group := range groups {
		if pdf.GetY() > 180 {
			pdf.AddPage()
			writeHeader()
			rowColor = false
		}

		if rowColor {
			pdf.SetFillColor(250, 250, 250)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		rowColor = !rowColor

		tx, _ := session.Statement().FindTransaction(group.StatementID)

		var docs []string
		total := "0.00"
		for _, id := range group.LedgerIDs {
			if entry, ok := session.Entry(id); ok {
				docs = append(docs, entry.DocumentNumber)
			}
		}
		if amounts := groupTotal(session, group); amounts != "" {
			total = amounts
		}

		pdf.CellFormat(colWidths[0], 7, group.StatementID, "1", 0, "L", true, 0, "")
		pdf.CellFormat(colWidths[1], 7, tx.Date.Format("2006-01-02"), "1", 0, "C", true, 0, "")
		pdf.CellFormat(colWidths[2], 7, tx.Amount.StringFixed(), "1", 0, "R", true, 0, "")
		pdf.CellFormat(colWidths[3], 7, strings.Join(docs, ", "), "1", 0, "L", true, 0, "")
		pdf.CellFormat(colWidths[4], 7, total, "1", 0, "R", true, 0, "")
		pdf.Ln(-1)
	}
}

func (g *PDFGenerator) writeFinalizeSection(pdf *gofpdf.Fpdf, report *recon.Report) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 8, "Finalize Results", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	if report.NothingToDo {
		pdf.CellFormat(0, 6, "Nothing to process: all matched entries were already reconciled.", "", 1, "L", false, 0, "")
		return
	}

	pdf.CellFormat(0, 6, fmt.Sprintf("Persisted: %d succeeded, %d failed", report.Succeeded, report.Failed), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	colWidths := []float64{40, 60, 159}
	headers := []string{"Remote ID", "Document", "Outcome"}
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(240, 240, 240)
	for i, header := range headers {
		pdf.CellFormat(colWidths[i], 8, header, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	pdf.SetFillColor(255, 255, 255)
	for _, item := range report.Items {
		outcome := "OK"
		if item.Err != nil {
			outcome = item.Err.Error()
		}
		pdf.CellFormat(colWidths[0], 7, fmt.Sprintf("%d", item.RemoteID), "1", 0, "R", false, 0, "")
		pdf.CellFormat(colWidths[1], 7, item.DocumentNumber, "1", 0, "L", false, 0, "")
		pdf.CellFormat(colWidths[2], 7, outcome, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}
}

func groupTotal(session *recon.Session, group recon.MatchGroup) string {
	var amounts []currency.Currency
	for _, id := range group.LedgerIDs {
		entry, ok := session.Entry(id)
		if !ok {
			return ""
		}
		amounts = append(amounts, entry.Amount)
	}
	return currency.Sum(amounts).StringFixed()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
