// Package recon implements the bank-statement reconciliation core: the
// match state store and the operations that mutate it (auto-match, manual
// match, unlink, unmatched-inclusion, finalize).
//
// A Session is owned by a single logical writer; its methods are not safe
// for concurrent use.
package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/openbooks/bankrec/internal/currency"
	"github.com/openbooks/bankrec/internal/ledger"
	"github.com/openbooks/bankrec/internal/logger"
	"github.com/openbooks/bankrec/internal/statement"
)

// MatchGroup links one statement transaction to one or more ledger
// entries, referenced by their stable RemoteIDs.
type MatchGroup struct {
	StatementID string  `json:"statement_id"`
	LedgerIDs   []int64 `json:"ledger_ids"`
}

// MatchRequest is a user-proposed manual match: exactly one statement
// transaction and at least one ledger entry.
type MatchRequest struct {
	StatementID string  `json:"statement_id"`
	LedgerIDs   []int64 `json:"ledger_ids"`
}

// Session holds the mutable state of one reconciliation workflow: the
// loaded statement, the current ledger window and the match state store.
// It is created when a statement file is loaded and discarded when a new
// file is loaded or the page is left.
type Session struct {
	companyID   string
	accountCode string

	query ledger.QueryService
	write ledger.WriteService

	stmt *statement.Statement

	window    ledger.Query
	hasWindow bool
	entries   []ledger.Entry
	byID      map[int64]int // RemoteID -> index into entries

	groups  map[string]*MatchGroup // statement id -> group
	claimed map[int64]string       // ledger RemoteID -> statement id

	finalizing bool
}

// NewSession starts a reconciliation workflow for one loaded statement
func NewSession(stmt *statement.Statement, query ledger.QueryService, write ledger.WriteService, companyID, accountCode string) *Session {
	return &Session{
		companyID:   companyID,
		accountCode: accountCode,
		query:       query,
		write:       write,
		stmt:        stmt,
		byID:        make(map[int64]int),
		groups:      make(map[string]*MatchGroup),
		claimed:     make(map[int64]string),
	}
}

// Statement returns the loaded statement
func (s *Session) Statement() *statement.Statement {
	return s.stmt
}

// Entries returns the current ledger window in fetch order. The returned
// slice is a copy; mutating it does not affect the session.
func (s *Session) Entries() []ledger.Entry {
	result := make([]ledger.Entry, len(s.entries))
	copy(result, s.entries)
	return result
}

// Entry returns the ledger entry with the given RemoteID from the current
// window
func (s *Session) Entry(remoteID int64) (ledger.Entry, bool) {
	idx, ok := s.byID[remoteID]
	if !ok {
		return ledger.Entry{}, false
	}
	return s.entries[idx], true
}

// GroupFor returns the match group for a statement transaction, if any
func (s *Session) GroupFor(statementID string) (MatchGroup, bool) {
	g, ok := s.groups[statementID]
	if !ok {
		return MatchGroup{}, false
	}
	return *g, true
}

// Groups returns all match groups in statement order
func (s *Session) Groups() []MatchGroup {
	result := make([]MatchGroup, 0, len(s.groups))
	for _, tx := range s.stmt.Transactions {
		if g, ok := s.groups[tx.ID]; ok {
			result = append(result, *g)
		}
	}
	return result
}

// UnmatchedTransactions returns statement transactions with no match group,
// in statement order
func (s *Session) UnmatchedTransactions() []statement.Transaction {
	var result []statement.Transaction
	for _, tx := range s.stmt.Transactions {
		if _, ok := s.groups[tx.ID]; !ok {
			result = append(result, tx)
		}
	}
	return result
}

// UnmatchedEntries returns ledger entries not claimed by any group, in
// fetch order
func (s *Session) UnmatchedEntries() []ledger.Entry {
	var result []ledger.Entry
	for _, e := range s.entries {
		if _, ok := s.claimed[e.RemoteID]; !ok {
			result = append(result, e)
		}
	}
	return result
}

// LoadLedger fetches the ledger window for the given date range and runs
// the auto-match pass. Existing match groups survive the reload unless an
// entry they reference left the window, in which case the whole group is
// dropped back to the unmatched pool.
func (s *Session) LoadLedger(ctx context.Context, dateFrom, dateTo time.Time) error {
	s.window = ledger.Query{
		CompanyID:   s.companyID,
		AccountCode: s.accountCode,
		DateFrom:    dateFrom,
		DateTo:      dateTo,
	}
	s.hasWindow = true
	return s.reload(ctx)
}

// reload refreshes the current window, prunes groups that no longer
// resolve and re-runs the auto-match pass.
func (s *Session) reload(ctx context.Context) error {
	if err := s.refetch(ctx); err != nil {
		return err
	}

	s.pruneStaleGroups()

	linked := s.autoMatch()
	logger.WriteInfo("Recon.Reload", fmt.Sprintf("account=%s entries=%d groups=%d autoLinked=%d",
		s.accountCode, len(s.entries), len(s.groups), linked))
	return nil
}

// refetch replaces the current window contents without touching the match
// state. Callers that need a specific entry linked before the amount-only
// auto-match pass runs (see IncludeUnmatched) use this directly.
func (s *Session) refetch(ctx context.Context) error {
	if !s.hasWindow {
		return ErrNoLedgerWindow
	}

	entries, err := s.query.FetchEntries(ctx, s.window)
	if err != nil {
		return fmt.Errorf("failed to fetch ledger entries: %w", err)
	}

	s.entries = entries
	s.byID = make(map[int64]int, len(entries))
	for i, e := range entries {
		s.byID[e.RemoteID] = i
	}
	return nil
}

// pruneStaleGroups removes groups referencing entries that disappeared
// from the window. Both sides return to the unmatched pool.
func (s *Session) pruneStaleGroups() {
	for id, g := range s.groups {
		stale := false
		for _, remoteID := range g.LedgerIDs {
			if _, ok := s.byID[remoteID]; !ok {
				stale = true
				break
			}
		}
		if stale {
			logger.WriteWarning("Recon.Reload", fmt.Sprintf("dropping match for statement %s: ledger entries left the window", id))
			s.removeGroup(id)
		}
	}
}

// Match validates a user-proposed group and commits it to the store.
//
// Replace semantics: the submitted ledger set becomes the whole group for
// the statement transaction, displacing any prior group. The sum check
// therefore always covers exactly the entries the group will hold. A
// caller extending an existing group resubmits the full set.
func (s *Session) Match(req MatchRequest) error {
	tx, ok := s.stmt.FindTransaction(req.StatementID)
	if !ok {
		return &NotFoundError{StatementID: req.StatementID}
	}

	if len(req.LedgerIDs) == 0 {
		return ErrNoSelection
	}

	// Dedupe while preserving selection order
	ids := make([]int64, 0, len(req.LedgerIDs))
	seen := make(map[int64]bool, len(req.LedgerIDs))
	for _, id := range req.LedgerIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	amounts := make([]currency.Currency, 0, len(ids))
	for _, id := range ids {
		e, ok := s.Entry(id)
		if !ok {
			return &NotFoundError{LedgerID: id}
		}
		if owner, taken := s.claimed[id]; taken && owner != req.StatementID {
			return &AlreadyMatchedError{StatementID: owner, LedgerID: id}
		}
		amounts = append(amounts, e.Amount)
	}

	selected := currency.Sum(amounts)
	if !selected.WithinTolerance(tx.Amount) {
		return &AmountMismatchError{Statement: tx.Amount, Selected: selected}
	}

	s.removeGroup(req.StatementID)
	s.installGroup(&MatchGroup{StatementID: req.StatementID, LedgerIDs: ids})

	logger.WriteInfo("Recon.Match", fmt.Sprintf("statement=%s entries=%d total=%s",
		req.StatementID, len(ids), selected.StringFixed()))
	return nil
}

// Unlink removes the match group for a statement transaction, returning
// both sides to the unmatched pool. Idempotent; unlinking an unmatched id
// is a no-op.
func (s *Session) Unlink(statementID string) {
	if _, ok := s.groups[statementID]; !ok {
		return
	}
	s.removeGroup(statementID)
	logger.WriteInfo("Recon.Unlink", fmt.Sprintf("statement=%s", statementID))
}

func (s *Session) installGroup(g *MatchGroup) {
	s.groups[g.StatementID] = g
	for _, id := range g.LedgerIDs {
		s.claimed[id] = g.StatementID
	}
}

func (s *Session) removeGroup(statementID string) {
	g, ok := s.groups[statementID]
	if !ok {
		return
	}
	for _, id := range g.LedgerIDs {
		delete(s.claimed, id)
	}
	delete(s.groups, statementID)
}
