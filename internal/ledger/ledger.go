// Package ledger defines the ledger-entry model and the contracts of the
// two ERP-side services the reconciliation core talks to. Implementations
// live elsewhere (see dbfstore); the core only depends on the interfaces.
package ledger

import (
	"context"
	"time"

	"github.com/openbooks/bankrec/internal/currency"
)

// NewEntryID is the sentinel RemoteID carried by a create request,
// meaning "assign a new id upstream".
const NewEntryID int64 = 0

// Movement type codes carried by ledger entries
const (
	MovementDeposit    = 1
	MovementWithdrawal = 2
)

// Entry is one financial movement record held by the backing ERP.
// RemoteID is the stable upstream identifier; match groups reference it,
// never the entry's position in a fetch result.
type Entry struct {
	RemoteID           int64             `json:"remote_id"`
	DocumentNumber     string            `json:"document_number"`
	Date               time.Time         `json:"date"`
	Amount             currency.Currency `json:"amount"`
	MovementTypeCode   int               `json:"movement_type_code"`
	ReconciledUpstream bool              `json:"reconciled_upstream"`
	History            string            `json:"history"`
	AccountCode        string            `json:"account_code"`
}

// Query selects a ledger window for one company account and date range
type Query struct {
	CompanyID   string    `json:"company_id"`
	AccountCode string    `json:"account_code"`
	DateFrom    time.Time `json:"date_from"`
	DateTo      time.Time `json:"date_to"`
}

// QueryService fetches ledger entries from the ERP.
// An empty result is a valid empty window, not an error.
type QueryService interface {
	FetchEntries(ctx context.Context, q Query) ([]Entry, error)
}

// UpdateRequest is the full-record payload of a persist call
type UpdateRequest struct {
	Entry      Entry `json:"entry"`
	Reconciled bool  `json:"reconciled"`
	Settled    bool  `json:"settled"`
}

// WriteService persists ledger entries to the ERP.
//
// Create is NOT idempotent: re-issuing it after a timeout creates a
// duplicate entry upstream. Update is idempotent at the business-key level
// when the caller supplies the same RemoteID.
type WriteService interface {
	Create(ctx context.Context, e Entry) error
	Update(ctx context.Context, req UpdateRequest) error
}
