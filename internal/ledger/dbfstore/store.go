// Package dbfstore implements the ledger query and write services over
// the ERP's native FoxPro table (GLTRANS.DBF). One Store serves one
// company data directory.
package dbfstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Valentin-Kaiser/go-dbase/dbase"

	"github.com/openbooks/bankrec/internal/currency"
	"github.com/openbooks/bankrec/internal/ledger"
	"github.com/openbooks/bankrec/internal/logger"
)

// GLTRANS.DBF column names
const (
	colEntryID    = "NENTRYID"
	colAccount    = "CACCTNO"
	colDocNumber  = "CDOCNO"
	colDate       = "DTRXDATE"
	colCurrent    = "NCURRVAL"
	colOriginal   = "NORIGVAL"
	colTrxType    = "NTRXTYPE"
	colReconciled = "LRECON"
	colSettled    = "LSETTLED"
	colHistory    = "CHISTORY"
)

// Store reads and writes ledger entries in a GLTRANS.DBF table
type Store struct {
	path string
}

var _ ledger.QueryService = (*Store)(nil)
var _ ledger.WriteService = (*Store)(nil)

// New creates a store for the ledger table in the given data directory
func New(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, "GLTRANS.DBF")}
}

// FetchEntries returns the entries for one account within a date range,
// in table order. An empty result is a valid empty window.
func (s *Store) FetchEntries(ctx context.Context, q ledger.Query) ([]ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ledger.TransportError{Op: "fetch", Err: err}
	}

	table, err := dbase.OpenTable(&dbase.Config{
		Filename:   s.path,
		TrimSpaces: true,
		ReadOnly:   true,
	})
	if err != nil {
		return nil, &ledger.TransportError{Op: "fetch", Err: err}
	}
	defer table.Close()

	var entries []ledger.Entry
	for !table.EOF() {
		record, err := table.Next()
		if err != nil {
			return nil, &ledger.TransportError{Op: "fetch", Err: err}
		}
		if record.Deleted {
			continue
		}

		account := strings.TrimSpace(fmt.Sprintf("%v", fieldValue(record, colAccount)))
		if account != q.AccountCode {
			continue
		}

		date := parseDate(fieldValue(record, colDate))
		if !q.DateFrom.IsZero() && date.Before(q.DateFrom) {
			continue
		}
		if !q.DateTo.IsZero() && date.After(q.DateTo) {
			continue
		}

		entries = append(entries, ledger.Entry{
			RemoteID:           parseInt(fieldValue(record, colEntryID)),
			DocumentNumber:     strings.TrimSpace(fmt.Sprintf("%v", fieldValue(record, colDocNumber))),
			Date:               date,
			Amount:             deriveAmount(fieldValue(record, colCurrent), fieldValue(record, colOriginal)),
			MovementTypeCode:   int(parseInt(fieldValue(record, colTrxType))),
			ReconciledUpstream: parseBool(fieldValue(record, colReconciled)),
			History:            strings.TrimSpace(fmt.Sprintf("%v", fieldValue(record, colHistory))),
			AccountCode:        account,
		})
	}

	logger.WriteDebug("DBFStore.Fetch", fmt.Sprintf("account=%s entries=%d", q.AccountCode, len(entries)))
	return entries, nil
}

// Create appends a new ledger entry. The request must carry the
// new-record sentinel id; the store assigns the next free id.
func (s *Store) Create(ctx context.Context, e ledger.Entry) error {
	if err := ctx.Err(); err != nil {
		return &ledger.TransportError{Op: "create", Err: err}
	}
	if e.RemoteID != ledger.NewEntryID {
		return &ledger.Fault{Code: "VALIDATION", Message: fmt.Sprintf("create requires the new-record id, got %d", e.RemoteID)}
	}
	if e.AccountCode == "" {
		return &ledger.Fault{Code: "VALIDATION", Message: "account code is required"}
	}

	table, err := dbase.OpenTable(&dbase.Config{
		Filename:   s.path,
		TrimSpaces: true,
	})
	if err != nil {
		return &ledger.TransportError{Op: "create", Err: err}
	}
	defer table.Close()

	// Scan for the next free entry id
	var maxID int64
	for !table.EOF() {
		record, err := table.Next()
		if err != nil {
			return &ledger.TransportError{Op: "create", Err: err}
		}
		if record.Deleted {
			continue
		}
		if id := parseInt(fieldValue(record, colEntryID)); id > maxID {
			maxID = id
		}
	}

	row := table.NewRow()
	setInt(row, colEntryID, maxID+1)
	setString(row, colAccount, e.AccountCode)
	setString(row, colDocNumber, e.DocumentNumber)
	setTime(row, colDate, e.Date)
	setFloat(row, colCurrent, e.Amount.ToFloat64())
	setFloat(row, colOriginal, e.Amount.ToFloat64())
	setInt(row, colTrxType, int64(e.MovementTypeCode))
	setBool(row, colReconciled, e.ReconciledUpstream)
	setBool(row, colSettled, false)
	setString(row, colHistory, e.History)

	if err := table.WriteRow(row); err != nil {
		return &ledger.TransportError{Op: "create", Err: err}
	}

	logger.WriteInfo("DBFStore.Create", fmt.Sprintf("account=%s doc=%s id=%d", e.AccountCode, e.DocumentNumber, maxID+1))
	return nil
}

// Update rewrites the full record of an existing ledger entry
func (s *Store) Update(ctx context.Context, req ledger.UpdateRequest) error {
	if err := ctx.Err(); err != nil {
		return &ledger.TransportError{Op: "update", Err: err}
	}
	e := req.Entry
	if e.RemoteID == ledger.NewEntryID {
		return &ledger.Fault{Code: "VALIDATION", Message: "update requires an existing entry id"}
	}

	table, err := dbase.OpenTable(&dbase.Config{
		Filename:   s.path,
		TrimSpaces: true,
	})
	if err != nil {
		return &ledger.TransportError{Op: "update", Err: err}
	}
	defer table.Close()

	for !table.EOF() {
		record, err := table.Next()
		if err != nil {
			return &ledger.TransportError{Op: "update", Err: err}
		}
		if record.Deleted {
			continue
		}
		if parseInt(fieldValue(record, colEntryID)) != e.RemoteID {
			continue
		}

		setString(record, colAccount, e.AccountCode)
		setString(record, colDocNumber, e.DocumentNumber)
		setTime(record, colDate, e.Date)
		setFloat(record, colCurrent, e.Amount.ToFloat64())
		setInt(record, colTrxType, int64(e.MovementTypeCode))
		setBool(record, colReconciled, req.Reconciled)
		setBool(record, colSettled, req.Settled)
		setString(record, colHistory, e.History)

		if err := table.WriteRow(record); err != nil {
			return &ledger.TransportError{Op: "update", Err: err}
		}

		logger.WriteInfo("DBFStore.Update", fmt.Sprintf("id=%d reconciled=%v settled=%v", e.RemoteID, req.Reconciled, req.Settled))
		return nil
	}

	return &ledger.Fault{Code: "NOT_FOUND", Message: fmt.Sprintf("ledger entry %d not found", e.RemoteID)}
}

// deriveAmount prefers the current-value column and falls back to the
// original-value column when the current value is absent or zero.
func deriveAmount(current, original interface{}) currency.Currency {
	amount := currency.ParseValue(current)
	if amount.IsZero() {
		return currency.ParseValue(original)
	}
	return amount
}

func fieldValue(row *dbase.Row, name string) interface{} {
	if field := row.FieldByName(name); field != nil {
		return field.GetValue()
	}
	return nil
}

func setString(row *dbase.Row, name, value string) {
	if field := row.FieldByName(name); field != nil {
		_ = field.SetValue(value)
	}
}

func setInt(row *dbase.Row, name string, value int64) {
	if field := row.FieldByName(name); field != nil {
		_ = field.SetValue(value)
	}
}

func setFloat(row *dbase.Row, name string, value float64) {
	if field := row.FieldByName(name); field != nil {
		_ = field.SetValue(value)
	}
}

func setBool(row *dbase.Row, name string, value bool) {
	if field := row.FieldByName(name); field != nil {
		_ = field.SetValue(value)
	}
}

func setTime(row *dbase.Row, name string, value time.Time) {
	if field := row.FieldByName(name); field != nil {
		_ = field.SetValue(value)
	}
}

// parseInt handles the numeric types DBF columns come back as
func parseInt(val interface{}) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case string:
		var n int64
		fmt.Sscanf(strings.TrimSpace(v), "%d", &n)
		return n
	default:
		return 0
	}
}

// parseBool parses FoxPro logical representations
func parseBool(val interface{}) bool {
	switch v := val.(type) {
	case bool:
		return v
	case string:
		lowerVal := strings.ToLower(strings.TrimSpace(v))
		return lowerVal == "t" || lowerVal == ".t." || lowerVal == "true" || lowerVal == "1"
	default:
		return false
	}
}

func parseDate(val interface{}) time.Time {
	switch v := val.(type) {
	case time.Time:
		return v
	case string:
		for _, format := range []string{"2006-01-02", "01/02/2006", "1/2/2006"} {
			if t, err := time.Parse(format, strings.TrimSpace(v)); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
