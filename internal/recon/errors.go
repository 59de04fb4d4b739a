package recon

import (
	"errors"
	"fmt"

	"github.com/openbooks/bankrec/internal/currency"
)

// ErrBusy is returned when Finalize is triggered while a previous
// Finalize on the same session is still running.
var ErrBusy = errors.New("finalize already in progress")

// ErrNoSelection is returned by Match when the request names no ledger
// entries.
var ErrNoSelection = errors.New("no ledger entries selected")

// ErrNoLedgerWindow is returned by operations that need ledger entries
// before LoadLedger has been called.
var ErrNoLedgerWindow = errors.New("no ledger window loaded")

// NotFoundError reports a statement transaction or ledger entry that the
// session does not know about. Seeing one indicates a logic defect in the
// caller, not a user mistake.
type NotFoundError struct {
	StatementID string
	LedgerID    int64
}

func (e *NotFoundError) Error() string {
	if e.StatementID != "" {
		return fmt.Sprintf("statement transaction %q not found", e.StatementID)
	}
	return fmt.Sprintf("ledger entry %d not in current window", e.LedgerID)
}

// AmountMismatchError reports a manual match whose selected ledger entries
// do not sum to the statement transaction amount. Both sums are carried so
// the caller can display them.
type AmountMismatchError struct {
	Statement currency.Currency
	Selected  currency.Currency
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("selected entries total %s but statement transaction is %s",
		e.Selected.StringFixed(), e.Statement.StringFixed())
}

// AlreadyMatchedError reports an attempt to claim a statement transaction
// or ledger entry that already belongs to a match group.
type AlreadyMatchedError struct {
	StatementID string
	LedgerID    int64
}

func (e *AlreadyMatchedError) Error() string {
	if e.LedgerID != 0 {
		return fmt.Sprintf("ledger entry %d is already matched to statement transaction %q", e.LedgerID, e.StatementID)
	}
	return fmt.Sprintf("statement transaction %q is already matched", e.StatementID)
}
