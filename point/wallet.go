package point

import "time"

// =============================================================================
// WALLET - Balance bounds
// =============================================================================
//
// Every mutator validates before it writes, so a failed call leaves the
// wallet exactly as it was.

// NewWallet opens an empty wallet with the given cap.
func NewWallet(id WalletID, userID string, maxBalance int64, now time.Time) *Wallet {
	return &Wallet{
		ID:         id,
		UserID:     userID,
		MaxBalance: maxBalance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Earn credits a new batch.
func (w *Wallet) Earn(amount int64) error {
	return w.credit(amount)
}

// Use debits a spend.
func (w *Wallet) Use(amount int64) error {
	return w.debit(amount)
}

// CancelEarn debits the original amount of a canceled batch.
func (w *Wallet) CancelEarn(amount int64) error {
	return w.debit(amount)
}

// CancelUse credits points returned by a use cancellation.
func (w *Wallet) CancelUse(amount int64) error {
	return w.credit(amount)
}

// SetMaxBalance changes the cap. The cap can never drop below the
// current balance.
func (w *Wallet) SetMaxBalance(limit int64) error {
	if limit < 1 {
		return errorf(ErrValidation, "wallet cap must be positive, got %d", limit)
	}
	if limit < w.Balance {
		return errorf(ErrWalletAmount, "wallet cap %d below balance %d", limit, w.Balance)
	}
	w.MaxBalance = limit
	return nil
}

func (w *Wallet) credit(amount int64) error {
	if amount < 1 {
		return errorf(ErrPointAmount, "amount must be at least 1, got %d", amount)
	}
	if amount > w.MaxBalance-w.Balance {
		return errorf(ErrWalletAmount, "balance %d + %d exceeds cap %d", w.Balance, amount, w.MaxBalance)
	}
	w.Balance += amount
	return nil
}

func (w *Wallet) debit(amount int64) error {
	if amount < 1 {
		return errorf(ErrPointAmount, "amount must be at least 1, got %d", amount)
	}
	if amount > w.Balance {
		return errorf(ErrWalletAmount, "balance %d is less than %d", w.Balance, amount)
	}
	w.Balance -= amount
	return nil
}
