package recon

import (
	"context"
	"fmt"

	"github.com/openbooks/bankrec/internal/ledger"
	"github.com/openbooks/bankrec/internal/logger"
)

// ItemResult is the outcome of one persist call within a finalize batch
type ItemResult struct {
	RemoteID       int64  `json:"remote_id"`
	DocumentNumber string `json:"document_number"`
	Err            error  `json:"-"`
}

// Report summarizes a finalize batch
type Report struct {
	// NothingToDo is set when every matched entry was already reconciled
	// upstream; no writes were attempted.
	NothingToDo bool         `json:"nothing_to_do"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	Items       []ItemResult `json:"items"`
}

// Finalize persists every matched ledger entry not yet reconciled
// upstream, one update call at a time, and reloads the ledger window.
//
// Writes are sequential and in fetch order so upstream load stays
// predictable and per-item error attribution stays unambiguous. A single
// entry's failure never aborts the batch; failures are counted and
// reported at the end. Because only still-unreconciled entries are
// attempted, re-running Finalize is naturally retry-safe: a second run
// with no intervening ledger change performs zero writes.
//
// The reload runs whether or not there were write errors; its error, if
// any, is returned alongside the report.
func (s *Session) Finalize(ctx context.Context) (*Report, error) {
	if s.finalizing {
		return nil, ErrBusy
	}
	s.finalizing = true
	defer func() { s.finalizing = false }()

	if !s.hasWindow {
		return nil, ErrNoLedgerWindow
	}

	// Collect claimed entries in fetch order; the claim index holds each
	// entry at most once.
	var pending []*ledger.Entry
	for i := range s.entries {
		e := &s.entries[i]
		if _, matched := s.claimed[e.RemoteID]; !matched {
			continue
		}
		if e.ReconciledUpstream {
			continue
		}
		pending = append(pending, e)
	}

	if len(pending) == 0 {
		logger.WriteInfo("Recon.Finalize", "nothing to process")
		return &Report{NothingToDo: true}, nil
	}

	report := &Report{}
	for _, e := range pending {
		err := s.write.Update(ctx, ledger.UpdateRequest{
			Entry:      *e,
			Reconciled: true,
			Settled:    true,
		})
		if err != nil {
			report.Failed++
			logger.WriteError("Recon.Finalize", fmt.Sprintf("entry %d (%s): %v", e.RemoteID, e.DocumentNumber, err))
		} else {
			report.Succeeded++
		}
		report.Items = append(report.Items, ItemResult{
			RemoteID:       e.RemoteID,
			DocumentNumber: e.DocumentNumber,
			Err:            err,
		})
	}

	logger.WriteInfo("Recon.Finalize", fmt.Sprintf("account=%s succeeded=%d failed=%d",
		s.accountCode, report.Succeeded, report.Failed))

	if err := s.reload(ctx); err != nil {
		return report, fmt.Errorf("finalize complete but ledger reload failed: %w", err)
	}
	return report, nil
}
