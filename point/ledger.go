package point

import "context"

// =============================================================================
// LEDGER - Append-only entry writes
// =============================================================================

// ValidateEntry checks that the sign of an entry matches its kind.
// USE_CANCEL may be zero: when every returned point was reissued as a new
// batch, the reissue EARN entries carry the credit instead.
func ValidateEntry(e LedgerEntry) error {
	if e.ID == "" || e.WalletID == "" {
		return inconsistency("entry without id or wallet")
	}
	var ok bool
	switch e.Kind {
	case EntryEarn:
		ok = e.Amount > 0
	case EntryEarnCancel, EntryUse:
		ok = e.Amount < 0
	case EntryUseCancel:
		ok = e.Amount >= 0
	default:
		return inconsistency("entry %s has unknown kind %q", e.ID, e.Kind)
	}
	if !ok {
		return inconsistency("entry %s: amount %d has the wrong sign for %s", e.ID, e.Amount, e.Kind)
	}
	return nil
}

// appendEntries validates every entry before any is written.
func appendEntries(ctx context.Context, st Store, entries ...LedgerEntry) error {
	for _, e := range entries {
		if err := ValidateEntry(e); err != nil {
			return err
		}
	}
	return st.AppendEntries(ctx, entries...)
}

// Sum returns the total of the entry amounts, which must equal the
// wallet balance.
func Sum(entries []LedgerEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	return total
}
