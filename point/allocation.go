/*
allocation.go - Spending points across earn batches

ALGORITHM:
  A use of N points is spread over the wallet's AVAILABLE batches that have
  not expired as of the use date, in priority order:

    1. Manual batches first      (admin grants are spent before anything else)
    2. Soonest expiry first      (points about to lapse go first)
    3. Lowest ID first           (deterministic tie-break)

  Batches are read in pages of allocationPageSize. Each page resumes
  strictly after the last row of the previous one using the full
  (manual, expireDate, id) tuple, so batches drained in an earlier page
  never shift the window.

  For each batch:
    usable = min(remaining, batch.RemainingBalance)
    batch  -= usable; one UseRecord(usable); remaining -= usable
  A batch with nothing usable is skipped but still moves the cursor.

CONSISTENCY:
  The wallet debit happens first and already proves balance >= N. If the
  batches then run out (a page shorter than requested, empty pages
  included) while points remain, the batches no longer cover the balance.
  That is an internal consistency violation: the whole transaction rolls
  back and the failure is logged at error level.

EXAMPLE:
  Batches: E1 manual exp 10d (100), E2 exp 5d (100), E3 exp 8d (100)
  Use 250 → E1 100, E2 100, E3 50
*/
package point

import (
	"context"
	"time"
)

// allocationPageSize is the number of batches read per page.
const allocationPageSize = 50

type UseCommand struct {
	UserID   string
	Amount   int64
	OrderRef string
	On       Date // zero means today
}

// Allocation is the share of an operation that hit one batch.
type Allocation struct {
	EarnID EarnID
	Amount int64
}

type UseResult struct {
	EntryID     EntryID
	Balance     int64
	Allocations []Allocation
}

// Use spends points from the user's wallet.
func (s *Service) Use(ctx context.Context, cmd UseCommand) (*UseResult, error) {
	var res *UseResult
	err := s.mutate(ctx, OpUse, cmd.UserID, func(ctx context.Context, st Store, now time.Time) (*Wallet, []LedgerEntry, error) {
		w, err := walletOf(ctx, st, cmd.UserID)
		if err != nil {
			return nil, nil, err
		}
		if err := w.Use(cmd.Amount); err != nil {
			return nil, nil, err
		}
		w.UpdatedAt = now

		entry := LedgerEntry{ID: EntryID(s.keys.NewID()), WalletID: w.ID, Kind: EntryUse, Amount: -cmd.Amount, CreatedAt: now}
		if err := st.SaveWallet(ctx, *w); err != nil {
			return nil, nil, err
		}
		if err := appendEntries(ctx, st, entry); err != nil {
			return nil, nil, err
		}

		allocs, err := s.allocate(ctx, st, entry, cmd.OrderRef, cmd.On.or(DateOf(now)), now)
		if err != nil {
			return nil, nil, err
		}

		res = &UseResult{EntryID: entry.ID, Balance: w.Balance, Allocations: allocs}
		return w, []LedgerEntry{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// allocate consumes batches for a USE entry and writes one UseRecord per
// batch touched.
func (s *Service) allocate(ctx context.Context, st Store, entry LedgerEntry, orderRef string, on Date, now time.Time) ([]Allocation, error) {
	remaining := -entry.Amount
	var (
		cursor *EarnCursor
		allocs []Allocation
	)

	for remaining > 0 {
		page, err := st.AvailableEarns(ctx, entry.WalletID, on, cursor, allocationPageSize)
		if err != nil {
			return nil, err
		}

		var (
			touched []EarnRecord
			uses    []UseRecord
		)
		for i := range page {
			earn := page[i]
			c := CursorOf(earn)
			cursor = &c

			usable := min(remaining, earn.RemainingBalance)
			if usable <= 0 {
				continue
			}
			if err := earn.AdjustBalance(-usable); err != nil {
				return nil, err
			}
			earn.UpdatedAt = now
			touched = append(touched, earn)
			uses = append(uses, UseRecord{
				ID:         UseID(s.keys.NewID()),
				WalletID:   entry.WalletID,
				UseEntryID: entry.ID,
				EarnID:     earn.ID,
				Amount:     usable,
				OrderRef:   orderRef,
				CreatedAt:  now,
			})
			allocs = append(allocs, Allocation{EarnID: earn.ID, Amount: usable})

			remaining -= usable
			if remaining == 0 {
				break
			}
		}

		if len(touched) > 0 {
			if err := st.SaveEarns(ctx, touched...); err != nil {
				return nil, err
			}
			if err := st.AppendUses(ctx, uses...); err != nil {
				return nil, err
			}
		}

		if remaining > 0 && len(page) < allocationPageSize {
			return nil, inconsistency("use %s: batches of wallet %s ran out with %d of %d points unallocated",
				entry.ID, entry.WalletID, remaining, -entry.Amount)
		}
	}
	return allocs, nil
}
