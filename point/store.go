/*
store.go - Persistence interface of the point engine

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  never talks SQL; it asks a Store for rows and hands back rows to write.

KEY INTERFACES:
  Store:    Reads and writes of wallets, entries, batches and their links
  TxStore:  Store plus WithTx for atomic multi-table writes

APPEND-ONLY CONTRACT:
  Ledger entries, use records, use-cancel records and earn-cancel records
  are only ever appended. Wallets and earn batches are saved (upserted)
  because they hold current state.

MISSING ROWS:
  Single-row lookups return (nil, nil) when the row does not exist. The
  engine decides which coded error that becomes.

KEYSET PAGINATION:
  AvailableEarns returns batches in allocation priority:
    1. Manual batches first
    2. Soonest expiry first
    3. Lowest ID first
  and resumes strictly after the cursor. Implementations must compare the
  whole (manual, expireDate, id) tuple, never only the ID.

IMPLEMENTATIONS:
  - point/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite (mattn or modernc driver)

SEE ALSO:
  - allocation.go: Main consumer of AvailableEarns
  - expire.go: Consumer of OverdueEarns
*/
package point

import "context"

// =============================================================================
// STORE
// =============================================================================

// Store persists engine state.
type Store interface {
	// WalletByUser returns the wallet of a user, or nil.
	WalletByUser(ctx context.Context, userID string) (*Wallet, error)
	// SaveWallet inserts or updates a wallet.
	SaveWallet(ctx context.Context, w Wallet) error

	// AppendEntries writes ledger entries. Append-only.
	AppendEntries(ctx context.Context, entries ...LedgerEntry) error
	// Entry returns one entry, or nil.
	Entry(ctx context.Context, id EntryID) (*LedgerEntry, error)
	// Entries returns all entries of a wallet in creation order.
	Entries(ctx context.Context, walletID WalletID) ([]LedgerEntry, error)

	// SaveEarns inserts or updates batches.
	SaveEarns(ctx context.Context, earns ...EarnRecord) error
	// Earn returns one batch, or nil.
	Earn(ctx context.Context, id EarnID) (*EarnRecord, error)
	// EarnByEntry returns the batch created by an EARN entry, or nil.
	EarnByEntry(ctx context.Context, entryID EntryID) (*EarnRecord, error)
	// EarnsByWallet returns all batches of a wallet in creation order.
	EarnsByWallet(ctx context.Context, walletID WalletID) ([]EarnRecord, error)
	// AvailableEarns returns up to limit AVAILABLE batches of the wallet
	// with ExpireDate >= asOf, in priority order, strictly after the cursor
	// (nil starts from the top).
	AvailableEarns(ctx context.Context, walletID WalletID, asOf Date, after *EarnCursor, limit int) ([]EarnRecord, error)
	// OverdueEarns returns up to limit batches of any wallet with
	// ExpireDate < ref that are neither CANCELED nor EXPIRED.
	OverdueEarns(ctx context.Context, ref Date, limit int) ([]EarnRecord, error)

	// AppendUses writes use records. Append-only.
	AppendUses(ctx context.Context, uses ...UseRecord) error
	// UsesByEntry returns the use records of a USE entry in creation order.
	UsesByEntry(ctx context.Context, entryID EntryID) ([]UseRecord, error)

	// AppendUseCancels writes use-cancel records. Append-only.
	AppendUseCancels(ctx context.Context, cancels ...UseCancelRecord) error
	// UseCancelsByUseEntry returns every cancel of every use record of a
	// USE entry.
	UseCancelsByUseEntry(ctx context.Context, entryID EntryID) ([]UseCancelRecord, error)

	// AppendEarnCancel writes an earn-cancel record. Append-only.
	AppendEarnCancel(ctx context.Context, c EarnCancelRecord) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is
	// rolled back. If fn returns nil, the writes are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ALLOCATION CURSOR
// =============================================================================

// EarnCursor is the position of a batch in allocation priority.
type EarnCursor struct {
	Manual     bool
	ExpireDate Date
	EarnID     EarnID
}

// CursorOf returns the priority position of a batch.
func CursorOf(e EarnRecord) EarnCursor {
	return EarnCursor{Manual: e.Manual, ExpireDate: e.ExpireDate, EarnID: e.ID}
}

// Less reports whether c is allocated before o.
func (c EarnCursor) Less(o EarnCursor) bool {
	if c.Manual != o.Manual {
		return c.Manual
	}
	if cmp := c.ExpireDate.Compare(o.ExpireDate); cmp != 0 {
		return cmp < 0
	}
	return c.EarnID < o.EarnID
}
