/*
earn.go - Earn batch lifecycle

STATE MACHINE:

  AVAILABLE <──> UNAVAILABLE      driven by RemainingBalance (0 ⇔ UNAVAILABLE)
      │              │
      ├── Cancel ────┼──> CANCELED  (only while nothing was used)
      └── Expire ────┴──> EXPIRED   (sweep, unconditional)

  CANCELED and EXPIRED are terminal: the remaining balance of a terminal
  batch never changes again. A use cancellation that targets an expired
  batch reissues the points as a new batch instead.

EXPIRY BOUNDS:
  earnDate <= expireDate <= earnDate + MaxExpiryDays
  A batch created without an explicit expiry gets earnDate + DefaultExpiryDays.
*/
package point

import "time"

// EarnParams describes a batch to create.
type EarnParams struct {
	ID             EarnID
	WalletID       WalletID
	EntryID        EntryID
	Kind           EarnKind
	Amount         int64
	Manual         bool
	EarnDate       Date
	ExpireDate     Date // zero means policy default
	RefUseCancelID UseCancelID
	CreatedAt      time.Time
}

// NewEarnRecord validates p against the expiry rules of pol and returns an
// AVAILABLE batch holding the full amount.
func NewEarnRecord(p EarnParams, pol Policy) (*EarnRecord, error) {
	if p.Amount < 1 {
		return nil, errorf(ErrPointAmount, "earn amount must be at least 1, got %d", p.Amount)
	}
	expire := p.ExpireDate.or(p.EarnDate.AddDays(pol.DefaultExpiryDays()))
	if expire.Before(p.EarnDate) {
		return nil, errorf(ErrEarnExpireDate, "expire date %s is before earn date %s", expire, p.EarnDate)
	}
	if limit := p.EarnDate.AddDays(pol.MaxExpiryDays()); expire.After(limit) {
		return nil, errorf(ErrEarnMaxExpireDate, "expire date %s is after %s", expire, limit)
	}
	return &EarnRecord{
		ID:               p.ID,
		WalletID:         p.WalletID,
		EntryID:          p.EntryID,
		Kind:             p.Kind,
		Status:           StatusAvailable,
		OriginalAmount:   p.Amount,
		RemainingBalance: p.Amount,
		Manual:           p.Manual,
		RefUseCancelID:   p.RefUseCancelID,
		EarnDate:         p.EarnDate,
		ExpireDate:       expire,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.CreatedAt,
	}, nil
}

// AdjustBalance moves the remaining balance by delta and re-derives the
// status from the result.
func (e *EarnRecord) AdjustBalance(delta int64) error {
	if err := e.refuseTerminal(); err != nil {
		return err
	}
	next := e.RemainingBalance + delta
	if next < 0 || next > e.OriginalAmount {
		return errorf(ErrEarnBalance, "earn %s: remaining %d %+d leaves [0, %d]", e.ID, e.RemainingBalance, delta, e.OriginalAmount)
	}
	e.RemainingBalance = next
	e.Status = statusFor(next)
	return nil
}

// Cancel voids an untouched batch.
func (e *EarnRecord) Cancel() error {
	if err := e.refuseTerminal(); err != nil {
		return err
	}
	if e.IsUsed() {
		return errorf(ErrEarnUsed, "earn %s has %d of %d points used", e.ID, e.OriginalAmount-e.RemainingBalance, e.OriginalAmount)
	}
	e.Status = StatusCanceled
	e.RemainingBalance = 0
	return nil
}

// Expire marks the batch EXPIRED. The remaining balance is kept as the
// amount that lapsed.
func (e *EarnRecord) Expire() {
	e.Status = StatusExpired
}

func (e *EarnRecord) IsExpired() bool { return e.Status == StatusExpired }
func (e *EarnRecord) IsManual() bool  { return e.Manual }
func (e *EarnRecord) IsUsed() bool    { return e.RemainingBalance != e.OriginalAmount }

func (e *EarnRecord) refuseTerminal() error {
	switch e.Status {
	case StatusCanceled:
		return errorf(ErrEarnAlreadyCanceled, "earn %s is canceled", e.ID)
	case StatusExpired:
		return errorf(ErrEarnAlreadyExpired, "earn %s is expired", e.ID)
	}
	return nil
}

// statusFor derives the live status from a remaining balance.
func statusFor(remaining int64) EarnStatus {
	if remaining == 0 {
		return StatusUnavailable
	}
	return StatusAvailable
}
