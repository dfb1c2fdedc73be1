/*
cancellation.go - Returning spent points

ALGORITHM:
  A cancel of N points against a USE entry:

    1. The entry must be a USE entry of the caller's wallet.
    2. Sum the points already returned for this use.
    3. Reject when already + N exceeds the original use amount.
    4. Credit N to the wallet (respects the cap).
    5. Walk the use's UseRecords in creation order. For each:
         cancelable = min(record.Amount - returnedFromRecord, remaining)
         batch still live    → batch.RemainingBalance += cancelable
         batch expired       → new REISSUED_FROM_USE_CANCEL batch dated
                               today with the default expiry and the same
                               manual flag, plus an EARN entry for it
         always              → one UseCancelRecord(cancelable)
       until remaining is zero.
    6. Points left after the walk mean the use records do not add up to the
       use entry: internal consistency violation, full rollback.

LEDGER:
  The USE_CANCEL entry carries only the points credited back to live
  batches; each reissue carries its own EARN entry. Together they equal N,
  so the ledger sum keeps matching the wallet balance.

EXAMPLE:
  Use 1200 took 1000 from B1 and 200 from B2. B1 then expired.
  Cancel 1100 → B1 part: reissue 1000 as B3; B2 part: +100 to B2.
  Entries: USE_CANCEL +100, EARN +1000.
*/
package point

import (
	"context"
	"time"
)

type CancelUseCommand struct {
	UserID  string
	EntryID EntryID // the USE entry
	Amount  int64
	On      Date // zero means today; dates reissued batches
}

type CancelUseResult struct {
	EntryID  EntryID // the USE_CANCEL entry
	Balance  int64
	Restored []Allocation // points returned to live batches
	Reissued []EarnRecord // batches created for expired ones
}

// CancelUse returns part or all of a use.
func (s *Service) CancelUse(ctx context.Context, cmd CancelUseCommand) (*CancelUseResult, error) {
	var res *CancelUseResult
	err := s.mutate(ctx, OpCancelUse, cmd.UserID, func(ctx context.Context, st Store, now time.Time) (*Wallet, []LedgerEntry, error) {
		if cmd.Amount < 1 {
			return nil, nil, errorf(ErrPointAmount, "cancel amount must be at least 1, got %d", cmd.Amount)
		}
		w, err := walletOf(ctx, st, cmd.UserID)
		if err != nil {
			return nil, nil, err
		}
		useEntry, err := st.Entry(ctx, cmd.EntryID)
		if err != nil {
			return nil, nil, err
		}
		if useEntry == nil || useEntry.WalletID != w.ID || useEntry.Kind != EntryUse {
			return nil, nil, errorf(ErrUnknownKey, "no use entry %s in wallet %s", cmd.EntryID, w.ID)
		}

		uses, err := st.UsesByEntry(ctx, useEntry.ID)
		if err != nil {
			return nil, nil, err
		}
		prior, err := st.UseCancelsByUseEntry(ctx, useEntry.ID)
		if err != nil {
			return nil, nil, err
		}
		returned := make(map[UseID]int64, len(uses))
		var already int64
		for _, c := range prior {
			returned[c.UseID] += c.Amount
			already += c.Amount
		}

		used := -useEntry.Amount
		if already+cmd.Amount > used {
			return nil, nil, errorf(ErrUseCancel, "use %s: %d already returned, %d requested, %d used",
				useEntry.ID, already, cmd.Amount, used)
		}
		if err := w.CancelUse(cmd.Amount); err != nil {
			return nil, nil, err
		}
		w.UpdatedAt = now

		cancelEntry := LedgerEntry{ID: EntryID(s.keys.NewID()), WalletID: w.ID, Kind: EntryUseCancel, CreatedAt: now}
		out := &CancelUseResult{EntryID: cancelEntry.ID}
		var (
			reissueEntries []LedgerEntry
			cancels        []UseCancelRecord
			restored       []EarnRecord
			restoredTotal  int64
		)

		remaining := cmd.Amount
		for _, use := range uses {
			if remaining == 0 {
				break
			}
			cancelable := min(use.Amount-returned[use.ID], remaining)
			if cancelable <= 0 {
				continue
			}

			earn, err := st.Earn(ctx, use.EarnID)
			if err != nil {
				return nil, nil, err
			}
			if earn == nil {
				return nil, nil, inconsistency("use record %s points at missing earn %s", use.ID, use.EarnID)
			}

			cancelID := UseCancelID(s.keys.NewID())
			if earn.IsExpired() {
				entry := LedgerEntry{ID: EntryID(s.keys.NewID()), WalletID: w.ID, Kind: EntryEarn, Amount: cancelable, CreatedAt: now}
				reissue, err := NewEarnRecord(EarnParams{
					ID:             EarnID(s.keys.NewID()),
					WalletID:       w.ID,
					EntryID:        entry.ID,
					Kind:           EarnReissued,
					Amount:         cancelable,
					Manual:         earn.IsManual(),
					EarnDate:       cmd.On.or(DateOf(now)),
					RefUseCancelID: cancelID,
					CreatedAt:      now,
				}, s.policy)
				if err != nil {
					return nil, nil, err
				}
				reissueEntries = append(reissueEntries, entry)
				out.Reissued = append(out.Reissued, *reissue)
			} else {
				if err := earn.AdjustBalance(cancelable); err != nil {
					return nil, nil, err
				}
				earn.UpdatedAt = now
				restored = append(restored, *earn)
				restoredTotal += cancelable
				out.Restored = append(out.Restored, Allocation{EarnID: earn.ID, Amount: cancelable})
			}

			cancels = append(cancels, UseCancelRecord{
				ID:            cancelID,
				WalletID:      w.ID,
				UseID:         use.ID,
				CancelEntryID: cancelEntry.ID,
				Amount:        cancelable,
				OrderRef:      use.OrderRef,
				CreatedAt:     now,
			})
			remaining -= cancelable
		}
		if remaining != 0 {
			return nil, nil, inconsistency("use %s: %d of %d points could not be matched to use records",
				useEntry.ID, remaining, cmd.Amount)
		}

		cancelEntry.Amount = restoredTotal
		entries := append([]LedgerEntry{cancelEntry}, reissueEntries...)

		if err := st.SaveWallet(ctx, *w); err != nil {
			return nil, nil, err
		}
		if err := appendEntries(ctx, st, entries...); err != nil {
			return nil, nil, err
		}
		if err := st.SaveEarns(ctx, append(restored, out.Reissued...)...); err != nil {
			return nil, nil, err
		}
		if err := st.AppendUseCancels(ctx, cancels...); err != nil {
			return nil, nil, err
		}

		out.Balance = w.Balance
		res = out
		return w, entries, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
