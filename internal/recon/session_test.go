package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbooks/bankrec/internal/currency"
	"github.com/openbooks/bankrec/internal/ledger"
	"github.com/openbooks/bankrec/internal/statement"
)

var testDay = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// fakeERP implements both ledger services against an in-memory table
type fakeERP struct {
	entries    []ledger.Entry
	nextID     int64
	fetchErr   error
	createErr  error
	updateErrs map[int64]error

	creates []ledger.Entry
	updates []ledger.UpdateRequest

	// overrideDoc makes Create store a different document number than
	// requested, simulating an ERP that rewrites fields
	overrideDoc string
}

func newFakeERP(entries ...ledger.Entry) *fakeERP {
	var maxID int64
	for _, e := range entries {
		if e.RemoteID > maxID {
			maxID = e.RemoteID
		}
	}
	return &fakeERP{entries: entries, nextID: maxID + 1}
}

func (f *fakeERP) FetchEntries(ctx context.Context, q ledger.Query) ([]ledger.Entry, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	result := make([]ledger.Entry, len(f.entries))
	copy(result, f.entries)
	return result, nil
}

func (f *fakeERP) Create(ctx context.Context, e ledger.Entry) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.creates = append(f.creates, e)
	e.RemoteID = f.nextID
	f.nextID++
	if f.overrideDoc != "" {
		e.DocumentNumber = f.overrideDoc
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeERP) Update(ctx context.Context, req ledger.UpdateRequest) error {
	if err := f.updateErrs[req.Entry.RemoteID]; err != nil {
		return err
	}
	f.updates = append(f.updates, req)
	for i := range f.entries {
		if f.entries[i].RemoteID == req.Entry.RemoteID {
			f.entries[i].ReconciledUpstream = req.Reconciled
		}
	}
	return nil
}

func entry(id int64, doc, amount string, reconciled bool) ledger.Entry {
	return ledger.Entry{
		RemoteID:           id,
		DocumentNumber:     doc,
		Date:               testDay,
		Amount:             currency.MustFromString(amount),
		MovementTypeCode:   ledger.MovementDeposit,
		ReconciledUpstream: reconciled,
		AccountCode:        "10100",
	}
}

func tx(id, amount string) statement.Transaction {
	return statement.Transaction{
		ID:     id,
		Date:   testDay,
		Amount: currency.MustFromString(amount),
	}
}

func newStatement(txs ...statement.Transaction) *statement.Statement {
	return &statement.Statement{BatchID: "batch-test", Transactions: txs}
}

func loadedSession(t *testing.T, erp *fakeERP, txs ...statement.Transaction) *Session {
	t.Helper()
	s := NewSession(newStatement(txs...), erp, erp, "ACME", "10100")
	require.NoError(t, s.LoadLedger(context.Background(), testDay.AddDate(0, 0, -7), testDay.AddDate(0, 0, 7)))
	return s
}

func TestAutoMatchLinksFirstInStatementOrderIgnoringSign(t *testing.T) {
	erp := newFakeERP(entry(1, "DOC1", "150.00", true))
	s := loadedSession(t, erp, tx("S1", "150.00"), tx("S2", "-150.00"))

	g, ok := s.GroupFor("S1")
	require.True(t, ok)
	assert.Equal(t, []int64{1}, g.LedgerIDs)
	_, ok = s.GroupFor("S2")
	assert.False(t, ok)

	// Reversed statement order: the negative one comes first and wins
	erp2 := newFakeERP(entry(1, "DOC1", "150.00", true))
	s2 := loadedSession(t, erp2, tx("S2", "-150.00"), tx("S1", "150.00"))
	_, ok = s2.GroupFor("S2")
	assert.True(t, ok)
}

func TestAutoMatchSkipsUnreconciledEntries(t *testing.T) {
	erp := newFakeERP(
		entry(1, "DOC1", "150.00", false),
		entry(2, "DOC2", "150.00", true),
	)
	s := loadedSession(t, erp, tx("S1", "150.00"))

	g, ok := s.GroupFor("S1")
	require.True(t, ok)
	assert.Equal(t, []int64{2}, g.LedgerIDs)
}

func TestAutoMatchWithinTolerance(t *testing.T) {
	erp := newFakeERP(entry(1, "DOC1", "150.01", true))
	s := loadedSession(t, erp, tx("S1", "150.00"))

	_, ok := s.GroupFor("S1")
	assert.True(t, ok)

	erp2 := newFakeERP(entry(1, "DOC1", "150.02", true))
	s2 := loadedSession(t, erp2, tx("S1", "150.00"))
	_, ok = s2.GroupFor("S1")
	assert.False(t, ok)
}

func TestManualMatchAmountMismatch(t *testing.T) {
	// Scenario: S1 is 200.00; entries 200.00 and 50.00 selected together
	erp := newFakeERP(
		entry(1, "DOC1", "200.00", false),
		entry(2, "DOC2", "50.00", false),
	)
	s := loadedSession(t, erp, tx("S1", "200.00"))

	err := s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1, 2}})
	var mismatch *AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "250.00", mismatch.Selected.StringFixed())
	assert.Equal(t, "200.00", mismatch.Statement.StringFixed())

	// Recoverable: nothing was committed
	_, ok := s.GroupFor("S1")
	assert.False(t, ok)
}

func TestManualMatchSuccess(t *testing.T) {
	erp := newFakeERP(
		entry(1, "DOC1", "200.00", false),
		entry(2, "DOC2", "50.00", false),
	)
	s := loadedSession(t, erp, tx("S1", "200.00"))

	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))

	g, ok := s.GroupFor("S1")
	require.True(t, ok)
	assert.Equal(t, []int64{1}, g.LedgerIDs)
}

func TestManualMatchMultipleEntries(t *testing.T) {
	erp := newFakeERP(
		entry(1, "DOC1", "150.00", false),
		entry(2, "DOC2", "50.00", false),
	)
	s := loadedSession(t, erp, tx("S1", "200.00"))

	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1, 2}}))
	g, _ := s.GroupFor("S1")
	assert.Equal(t, []int64{1, 2}, g.LedgerIDs)
}

func TestManualMatchValidation(t *testing.T) {
	erp := newFakeERP(entry(1, "DOC1", "200.00", false))
	s := loadedSession(t, erp, tx("S1", "200.00"), tx("S2", "200.00"))

	var notFound *NotFoundError
	err := s.Match(MatchRequest{StatementID: "NOPE", LedgerIDs: []int64{1}})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "NOPE", notFound.StatementID)

	err = s.Match(MatchRequest{StatementID: "S1"})
	assert.ErrorIs(t, err, ErrNoSelection)

	err = s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{99}})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(99), notFound.LedgerID)

	// Entry claimed by another statement transaction is rejected
	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))
	var already *AlreadyMatchedError
	err = s.Match(MatchRequest{StatementID: "S2", LedgerIDs: []int64{1}})
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "S1", already.StatementID)
	assert.Equal(t, int64(1), already.LedgerID)
}

func TestManualMatchReplacesExistingGroup(t *testing.T) {
	erp := newFakeERP(
		entry(1, "DOC1", "200.00", false),
		entry(2, "DOC2", "200.00", false),
	)
	s := loadedSession(t, erp, tx("S1", "200.00"))

	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{2}}))

	g, _ := s.GroupFor("S1")
	assert.Equal(t, []int64{2}, g.LedgerIDs)

	// Entry 1 returned to the pool and can be claimed again
	unmatched := s.UnmatchedEntries()
	require.Len(t, unmatched, 1)
	assert.Equal(t, int64(1), unmatched[0].RemoteID)
}

func TestLedgerUniquenessInvariant(t *testing.T) {
	erp := newFakeERP(
		entry(1, "DOC1", "100.00", false),
		entry(2, "DOC2", "100.00", false),
		entry(3, "DOC3", "200.00", false),
	)
	s := loadedSession(t, erp, tx("S1", "100.00"), tx("S2", "100.00"), tx("S3", "200.00"))

	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S2", LedgerIDs: []int64{2}}))
	s.Unlink("S1")
	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S3", LedgerIDs: []int64{3}}))

	seen := make(map[int64]string)
	for _, g := range s.Groups() {
		for _, id := range g.LedgerIDs {
			owner, dup := seen[id]
			assert.Falsef(t, dup, "ledger entry %d in groups for %s and %s", id, owner, g.StatementID)
			seen[id] = g.StatementID
		}
	}
	assert.Len(t, seen, 3)
}

func TestUnlinkIsIdempotent(t *testing.T) {
	erp := newFakeERP(entry(1, "DOC1", "100.00", false))
	s := loadedSession(t, erp, tx("S1", "100.00"))

	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))
	s.Unlink("S1")
	s.Unlink("S1")
	s.Unlink("never-matched")

	assert.Empty(t, s.Groups())
	assert.Len(t, s.UnmatchedEntries(), 1)
}

func TestReloadPreservesManualMatches(t *testing.T) {
	erp := newFakeERP(
		entry(1, "DOC1", "100.00", false),
		entry(2, "DOC2", "300.00", true),
	)
	s := loadedSession(t, erp, tx("S1", "100.00"), tx("S2", "300.00"))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))

	// S2 was auto-matched on load; both groups survive a reload
	require.NoError(t, s.LoadLedger(context.Background(), testDay.AddDate(0, 0, -7), testDay.AddDate(0, 0, 7)))
	assert.Len(t, s.Groups(), 2)
}

func TestReloadPrunesGroupsWhoseEntriesLeftTheWindow(t *testing.T) {
	erp := newFakeERP(
		entry(1, "DOC1", "100.00", false),
		entry(2, "DOC2", "300.00", false),
	)
	s := loadedSession(t, erp, tx("S1", "100.00"), tx("S2", "300.00"))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S2", LedgerIDs: []int64{2}}))

	// Entry 1 disappears upstream
	erp.entries = erp.entries[1:]
	require.NoError(t, s.LoadLedger(context.Background(), testDay.AddDate(0, 0, -7), testDay.AddDate(0, 0, 7)))

	_, ok := s.GroupFor("S1")
	assert.False(t, ok)
	_, ok = s.GroupFor("S2")
	assert.True(t, ok)
}

func TestFinalizePartialFailure(t *testing.T) {
	// Scenario: one entry the write service rejects, one it accepts
	erp := newFakeERP(
		entry(1, "DOC1", "100.00", false),
		entry(2, "DOC2", "300.00", false),
	)
	erp.updateErrs = map[int64]error{
		1: &ledger.Fault{Code: "VALIDATION", Message: "period is closed"},
	}
	s := loadedSession(t, erp, tx("S1", "100.00"), tx("S2", "300.00"))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S2", LedgerIDs: []int64{2}}))

	report, err := s.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.NothingToDo)
	require.Len(t, report.Items, 2)

	var fault *ledger.Fault
	require.ErrorAs(t, report.Items[0].Err, &fault)
	assert.Equal(t, "period is closed", fault.Message)
	assert.NoError(t, report.Items[1].Err)

	// After the reload the rejected entry is still unreconciled, the
	// accepted one is reconciled
	e1, _ := s.Entry(1)
	assert.False(t, e1.ReconciledUpstream)
	e2, _ := s.Entry(2)
	assert.True(t, e2.ReconciledUpstream)
}

func TestFinalizeIsRetrySafe(t *testing.T) {
	erp := newFakeERP(
		entry(1, "DOC1", "100.00", false),
		entry(2, "DOC2", "300.00", false),
	)
	s := loadedSession(t, erp, tx("S1", "100.00"), tx("S2", "300.00"))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S2", LedgerIDs: []int64{2}}))

	report, err := s.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	writesAfterFirst := len(erp.updates)

	// Second run with no intervening ledger change performs zero writes
	report, err = s.Finalize(context.Background())
	require.NoError(t, err)
	assert.True(t, report.NothingToDo)
	assert.Zero(t, report.Succeeded)
	assert.Equal(t, writesAfterFirst, len(erp.updates))
}

func TestFinalizeNothingMatched(t *testing.T) {
	erp := newFakeERP(entry(1, "DOC1", "100.00", false))
	s := loadedSession(t, erp, tx("S1", "999.00"))

	report, err := s.Finalize(context.Background())
	require.NoError(t, err)
	assert.True(t, report.NothingToDo)
	assert.Empty(t, erp.updates)
}

func TestFinalizeWriteOrderFollowsFetchOrder(t *testing.T) {
	erp := newFakeERP(
		entry(1, "DOC1", "100.00", false),
		entry(2, "DOC2", "300.00", false),
		entry(3, "DOC3", "50.00", false),
	)
	s := loadedSession(t, erp, tx("S1", "100.00"), tx("S2", "300.00"), tx("S3", "50.00"))
	// Match in reverse order; writes still follow fetch order
	require.NoError(t, s.Match(MatchRequest{StatementID: "S3", LedgerIDs: []int64{3}}))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S2", LedgerIDs: []int64{2}}))
	require.NoError(t, s.Match(MatchRequest{StatementID: "S1", LedgerIDs: []int64{1}}))

	_, err := s.Finalize(context.Background())
	require.NoError(t, err)

	var order []int64
	for _, u := range erp.updates {
		order = append(order, u.Entry.RemoteID)
	}
	assert.Equal(t, []int64{1, 2, 3}, order)
}

func TestFinalizeGuardsReentry(t *testing.T) {
	erp := newFakeERP(entry(1, "DOC1", "100.00", false))
	s := loadedSession(t, erp, tx("S1", "100.00"))

	s.finalizing = true
	_, err := s.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
}

func TestIncludeUnmatchedWithdrawal(t *testing.T) {
	// Scenario: statement transaction of -75.30 becomes a withdrawal-typed
	// create with an absolute amount
	erp := newFakeERP()
	s := loadedSession(t, erp, tx("STMT-2025-000123", "-75.30"))

	result, err := s.IncludeUnmatched(context.Background(), "STMT-2025-000123")
	require.NoError(t, err)
	assert.Equal(t, PhaseLinked, result.Phase)
	require.NotNil(t, result.Entry)

	require.Len(t, erp.creates, 1)
	created := erp.creates[0]
	assert.Equal(t, ledger.NewEntryID, created.RemoteID)
	assert.Equal(t, ledger.MovementWithdrawal, created.MovementTypeCode)
	assert.Equal(t, "75.30", created.Amount.StringFixed())
	assert.Equal(t, "025-000123", created.DocumentNumber)
	assert.True(t, created.ReconciledUpstream)
	assert.Equal(t, "10100", created.AccountCode)

	g, ok := s.GroupFor("STMT-2025-000123")
	require.True(t, ok)
	assert.Equal(t, []int64{result.Entry.RemoteID}, g.LedgerIDs)
}

func TestIncludeUnmatchedDeposit(t *testing.T) {
	erp := newFakeERP()
	s := loadedSession(t, erp, tx("S1", "200.00"))

	result, err := s.IncludeUnmatched(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, PhaseLinked, result.Phase)

	created := erp.creates[0]
	assert.Equal(t, ledger.MovementDeposit, created.MovementTypeCode)
	assert.Equal(t, "S1", created.DocumentNumber)
}

func TestIncludeUnmatchedCreateFailure(t *testing.T) {
	erp := newFakeERP()
	erp.createErr = &ledger.Fault{Code: "VALIDATION", Message: "account is locked"}
	s := loadedSession(t, erp, tx("S1", "200.00"))

	result, err := s.IncludeUnmatched(context.Background(), "S1")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "account is locked")

	// No state change of any kind
	assert.Empty(t, s.Groups())
	assert.Empty(t, s.Entries())
}

func TestIncludeUnmatchedLinkFailed(t *testing.T) {
	// The ERP stores a different document number than requested, so the
	// link-back cannot locate the new entry
	erp := newFakeERP()
	erp.overrideDoc = "REWRITTEN"
	s := loadedSession(t, erp, tx("S1", "200.00"))

	result, err := s.IncludeUnmatched(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, PhaseLinkFailed, result.Phase)
	assert.Nil(t, result.Entry)

	// Entry exists upstream, statement transaction stays unmatched
	assert.Len(t, erp.entries, 1)
	assert.Empty(t, s.Groups())
}

func TestIncludeUnmatchedReloadFailure(t *testing.T) {
	erp := newFakeERP()
	s := loadedSession(t, erp, tx("S1", "200.00"))
	erp.fetchErr = errors.New("connection reset")

	result, err := s.IncludeUnmatched(context.Background(), "S1")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, PhaseCreated, result.Phase)
	// Created upstream even though the session could not see it
	assert.Len(t, erp.entries, 1)
}

func TestIncludeUnmatchedLinksOriginatingTransaction(t *testing.T) {
	// Another unmatched transaction with the same absolute amount must not
	// steal the created entry; the link goes by document number, not just
	// amount
	erp := newFakeERP()
	s := loadedSession(t, erp, tx("S0", "75.30"), tx("S1", "-75.30"))

	result, err := s.IncludeUnmatched(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, PhaseLinked, result.Phase)
	require.NotNil(t, result.Entry)

	g, ok := s.GroupFor("S1")
	require.True(t, ok)
	assert.Equal(t, []int64{result.Entry.RemoteID}, g.LedgerIDs)

	_, ok = s.GroupFor("S0")
	assert.False(t, ok)
}

func TestIncludeUnmatchedGuards(t *testing.T) {
	erp := newFakeERP(entry(1, "DOC1", "200.00", true))
	s := loadedSession(t, erp, tx("S1", "200.00"))

	// S1 was auto-matched on load
	var already *AlreadyMatchedError
	_, err := s.IncludeUnmatched(context.Background(), "S1")
	require.ErrorAs(t, err, &already)

	var notFound *NotFoundError
	_, err = s.IncludeUnmatched(context.Background(), "NOPE")
	require.ErrorAs(t, err, &notFound)
}

func TestEntriesReturnsCopy(t *testing.T) {
	erp := newFakeERP(entry(1, "DOC1", "100.00", false))
	s := loadedSession(t, erp, tx("S1", "100.00"))

	entries := s.Entries()
	entries[0].Amount = currency.MustFromString("999.99")
	entries[0].ReconciledUpstream = true

	e, ok := s.Entry(1)
	require.True(t, ok)
	assert.Equal(t, "100.00", e.Amount.StringFixed())
	assert.False(t, e.ReconciledUpstream)
}

func TestOperationsRequireLedgerWindow(t *testing.T) {
	erp := newFakeERP()
	s := NewSession(newStatement(tx("S1", "100.00")), erp, erp, "ACME", "10100")

	_, err := s.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrNoLedgerWindow)

	_, err = s.IncludeUnmatched(context.Background(), "S1")
	assert.ErrorIs(t, err, ErrNoLedgerWindow)
}
