/*
types.go - Core vocabulary of the point ledger

PURPOSE:
  Defines the records the engine reads and writes. Two families exist:

  IMMUTABLE (append-only):
    LedgerEntry       One signed balance change of a wallet
    UseRecord         Points taken from one earn batch by one use
    UseCancelRecord   Points returned from one UseRecord by one cancel-use
    EarnCancelRecord  Link between a canceled batch and its EARN_CANCEL entry

  MUTABLE (current state):
    Wallet            Per-user balance and cap
    EarnRecord        A batch of earned points with its own remaining balance

  The ledger is the audit trail. Wallet and batches are the state the
  allocation algorithms work against. Both are written in the same store
  transaction so they never drift.

SIGN CONVENTION:
  EARN        +amount
  EARN_CANCEL -amount
  USE         -amount
  USE_CANCEL  +amount (zero when every returned point was reissued)

  The sum of a wallet's entry amounts always equals the wallet balance.

SEE ALSO:
  - wallet.go: Wallet bounds
  - earn.go: EarnRecord lifecycle
  - ledger.go: Entry sign validation
*/
package point

import (
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WalletID string
type EntryID string
type EarnID string
type UseID string
type UseCancelID string
type EarnCancelID string

// =============================================================================
// ENUMERATIONS
// =============================================================================

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryEarn       EntryKind = "EARN"
	EntryEarnCancel EntryKind = "EARN_CANCEL"
	EntryUse        EntryKind = "USE"
	EntryUseCancel  EntryKind = "USE_CANCEL"
)

// EarnKind tells where a batch came from.
type EarnKind string

const (
	EarnGeneral  EarnKind = "GENERAL"
	EarnManual   EarnKind = "MANUAL"
	EarnReissued EarnKind = "REISSUED_FROM_USE_CANCEL"
)

// ParseEarnKind maps client input to a kind. Blank or unknown input is a
// general earn. Reissued batches are created by the engine only, so that
// value is never accepted from a caller.
func ParseEarnKind(s string) EarnKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MANUAL", "EARN_MANUAL":
		return EarnManual
	default:
		return EarnGeneral
	}
}

// EarnStatus is the lifecycle state of a batch.
type EarnStatus string

const (
	StatusAvailable   EarnStatus = "AVAILABLE"
	StatusUnavailable EarnStatus = "UNAVAILABLE"
	StatusCanceled    EarnStatus = "CANCELED"
	StatusExpired     EarnStatus = "EXPIRED"
)

// Terminal reports whether the status can no longer change.
func (s EarnStatus) Terminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

// =============================================================================
// RECORDS
// =============================================================================

// Wallet is the per-user account. Balance is the spendable total.
type Wallet struct {
	ID         WalletID
	UserID     string
	Balance    int64
	MaxBalance int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LedgerEntry is one immutable, signed balance change.
type LedgerEntry struct {
	ID        EntryID
	WalletID  WalletID
	Kind      EntryKind
	Amount    int64
	CreatedAt time.Time
}

// EarnRecord is a batch of earned points. RemainingBalance moves as uses
// and use cancellations touch the batch; everything else is fixed at
// creation.
type EarnRecord struct {
	ID               EarnID
	WalletID         WalletID
	EntryID          EntryID
	Kind             EarnKind
	Status           EarnStatus
	OriginalAmount   int64
	RemainingBalance int64
	Manual           bool
	RefUseCancelID   UseCancelID
	EarnDate         Date
	ExpireDate       Date
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UseRecord says that a USE entry took Amount points from one batch.
type UseRecord struct {
	ID         UseID
	WalletID   WalletID
	UseEntryID EntryID
	EarnID     EarnID
	Amount     int64
	OrderRef   string
	CreatedAt  time.Time
}

// UseCancelRecord says that a USE_CANCEL entry returned Amount points of
// one UseRecord.
type UseCancelRecord struct {
	ID            UseCancelID
	WalletID      WalletID
	UseID         UseID
	CancelEntryID EntryID
	Amount        int64
	OrderRef      string
	CreatedAt     time.Time
}

// EarnCancelRecord ties a canceled batch to its EARN_CANCEL entry.
type EarnCancelRecord struct {
	ID            EarnCancelID
	WalletID      WalletID
	EarnID        EarnID
	CancelEntryID EntryID
	Amount        int64
	CreatedAt     time.Time
}
