package recon

// autoMatch links ledger entries already flagged reconciled upstream to
// statement transactions by amount. It runs on every ledger (re)load.
//
// Entries are visited in fetch order; each unclaimed reconciled entry is
// linked to the first unmatched statement transaction whose absolute
// amount matches within tolerance. Sign is not compared:
// bank statements and ledgers may encode direction oppositely.
//
// An entry with no same-amount unmatched counterpart simply stays
// unmatched. That is expected steady state, not an error.
func (s *Session) autoMatch() int {
	linked := 0
	for i := range s.entries {
		e := &s.entries[i]
		if !e.ReconciledUpstream {
			continue
		}
		if _, taken := s.claimed[e.RemoteID]; taken {
			continue
		}

		entryAmount := e.Amount.Abs()
		for _, tx := range s.stmt.Transactions {
			if _, matched := s.groups[tx.ID]; matched {
				continue
			}
			if !tx.Amount.Abs().WithinTolerance(entryAmount) {
				continue
			}
			s.installGroup(&MatchGroup{StatementID: tx.ID, LedgerIDs: []int64{e.RemoteID}})
			linked++
			break
		}
	}
	return linked
}
