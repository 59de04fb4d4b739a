// Package statement holds the bank-statement side of a reconciliation
// session. The statement file itself is parsed by an external source; the
// CSV adapter here consumes that source's output format.
package statement

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openbooks/bankrec/internal/currency"
)

// Transaction is one line item from a parsed bank statement. Immutable
// once loaded; owned by the session for one reconciliation workflow.
type Transaction struct {
	ID          string            `json:"id"`
	Date        time.Time         `json:"date"`
	Amount      currency.Currency `json:"amount"`
	Description string            `json:"description"`
}

// Statement is the full output of the statement source for one file.
type Statement struct {
	// BatchID identifies one load of a statement file
	BatchID           string            `json:"batch_id"`
	Transactions      []Transaction     `json:"transactions"`
	ClosingBalance    currency.Currency `json:"closing_balance"`
	HasClosingBalance bool              `json:"has_closing_balance"`
}

// FindTransaction returns the transaction with the given id
func (s *Statement) FindTransaction(id string) (Transaction, bool) {
	for _, tx := range s.Transactions {
		if tx.ID == id {
			return tx, true
		}
	}
	return Transaction{}, false
}

var dateFormats = []string{"2006-01-02", "01/02/2006", "1/2/2006"}

// Parse reads statement transactions from CSV content.
// Expected columns: id, date, amount, description and optionally a running
// balance as a fifth column; the balance of the last row becomes the
// statement's closing balance. A header row is detected and skipped.
func Parse(r io.Reader) (*Statement, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read statement csv: %w", err)
	}

	stmt := &Statement{BatchID: uuid.NewString()}
	seen := make(map[string]bool)

	for i, record := range records {
		if len(record) == 0 {
			continue
		}
		if i == 0 && isHeaderRow(record) {
			continue
		}
		if len(record) < 4 {
			return nil, fmt.Errorf("statement row %d: expected at least 4 fields, got %d", i+1, len(record))
		}

		id := strings.TrimSpace(record[0])
		if id == "" {
			return nil, fmt.Errorf("statement row %d: empty transaction id", i+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("statement row %d: duplicate transaction id %q", i+1, id)
		}
		seen[id] = true

		date, err := parseDate(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("statement row %d: %w", i+1, err)
		}

		amount, err := currency.NewFromString(strings.TrimSpace(record[2]))
		if err != nil {
			return nil, fmt.Errorf("statement row %d: invalid amount %q: %w", i+1, record[2], err)
		}

		stmt.Transactions = append(stmt.Transactions, Transaction{
			ID:          id,
			Date:        date,
			Amount:      amount,
			Description: strings.TrimSpace(record[3]),
		})

		if len(record) >= 5 && strings.TrimSpace(record[4]) != "" {
			balance, err := currency.NewFromString(strings.TrimSpace(record[4]))
			if err != nil {
				return nil, fmt.Errorf("statement row %d: invalid balance %q: %w", i+1, record[4], err)
			}
			stmt.ClosingBalance = balance
			stmt.HasClosingBalance = true
		}
	}

	return stmt, nil
}

// ParseFile reads statement transactions from a CSV file on disk
func ParseFile(path string) (*Statement, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open statement file: %w", err)
	}
	defer file.Close()

	return Parse(file)
}

func parseDate(s string) (time.Time, error) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func isHeaderRow(record []string) bool {
	if len(record) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(record[0]))
	return first == "id" || first == "transaction_id" || first == "txid"
}
