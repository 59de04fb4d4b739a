package recon

import (
	"context"
	"fmt"
	"strings"

	"github.com/openbooks/bankrec/internal/ledger"
	"github.com/openbooks/bankrec/internal/logger"
)

// Inclusion phases. Create-then-link is not atomic: the ERP write can
// succeed while the link-back fails, leaving a ledger entry that exists
// upstream but no match group. The phase tells the caller which half to
// retry; the create call must never be blindly re-issued.
const (
	PhaseCreated    = "created"
	PhaseLinked     = "linked"
	PhaseLinkFailed = "link_failed"
)

// docNumberWidth is the fixed width of the upstream document-number field
const docNumberWidth = 10

// InclusionResult reports how far an unmatched-inclusion got
type InclusionResult struct {
	Phase string        `json:"phase"`
	Entry *ledger.Entry `json:"entry,omitempty"`
}

// IncludeUnmatched synthesizes a ledger entry from a single unmatched
// statement transaction, creates it upstream and attempts to link the new
// entry back to the originating transaction.
//
// On create failure nothing is mutated and the upstream error is returned
// as-is. After a successful create the result phase is Created (window
// refetch failed), LinkFailed (new entry not located in the refetched
// window) or Linked.
func (s *Session) IncludeUnmatched(ctx context.Context, statementID string) (*InclusionResult, error) {
	tx, ok := s.stmt.FindTransaction(statementID)
	if !ok {
		return nil, &NotFoundError{StatementID: statementID}
	}
	if _, matched := s.groups[statementID]; matched {
		return nil, &AlreadyMatchedError{StatementID: statementID}
	}
	if !s.hasWindow {
		return nil, ErrNoLedgerWindow
	}

	movementType := ledger.MovementDeposit
	if tx.Amount.IsNegative() {
		movementType = ledger.MovementWithdrawal
	}

	docNumber := documentNumberFor(tx.ID)
	entry := ledger.Entry{
		RemoteID:           ledger.NewEntryID,
		DocumentNumber:     docNumber,
		Date:               tx.Date,
		Amount:             tx.Amount.Abs(),
		MovementTypeCode:   movementType,
		ReconciledUpstream: true,
		History:            tx.Description,
		AccountCode:        s.accountCode,
	}

	if err := s.write.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create ledger entry for statement %s: %w", statementID, err)
	}
	logger.WriteInfo("Recon.Include", fmt.Sprintf("statement=%s doc=%s amount=%s created",
		statementID, docNumber, entry.Amount.StringFixed()))

	// The entry now exists upstream. From here on failures leave the
	// statement transaction unmatched and the caller retries the link
	// phase only.
	//
	// The refetch skips the auto-match pass: the new entry comes back
	// flagged reconciled, and amount-only auto-matching would claim it for
	// whichever unmatched transaction sorts first instead of the
	// originating one. The link below goes by document number and amount.
	if err := s.refetch(ctx); err != nil {
		return &InclusionResult{Phase: PhaseCreated}, fmt.Errorf("entry created but ledger refetch failed: %w", err)
	}
	s.pruneStaleGroups()

	for i := range s.entries {
		e := &s.entries[i]
		if _, taken := s.claimed[e.RemoteID]; taken {
			continue
		}
		if !strings.HasSuffix(e.DocumentNumber, docNumber) {
			continue
		}
		if !e.Amount.WithinTolerance(entry.Amount) {
			continue
		}
		s.installGroup(&MatchGroup{StatementID: statementID, LedgerIDs: []int64{e.RemoteID}})
		logger.WriteInfo("Recon.Include", fmt.Sprintf("statement=%s linked to ledger entry %d", statementID, e.RemoteID))
		return &InclusionResult{Phase: PhaseLinked, Entry: e}, nil
	}

	logger.WriteWarning("Recon.Include", fmt.Sprintf("statement=%s: created entry not found in refetched window", statementID))
	return &InclusionResult{Phase: PhaseLinkFailed}, nil
}

// documentNumberFor derives the synthetic document number: the last 10
// characters of the statement transaction id, fitting the fixed-width
// upstream field.
func documentNumberFor(statementID string) string {
	if len(statementID) <= docNumberWidth {
		return statementID
	}
	return statementID[len(statementID)-docNumberWidth:]
}
