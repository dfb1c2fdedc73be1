package point

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet(balance, maxBalance int64) *Wallet {
	w := NewWallet("w-1", "user-1", maxBalance, time.Now())
	w.Balance = balance
	return w
}

func TestWallet_Credit(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		amount  int64
		want    int64
		code    Code
	}{
		{"within cap", 100, 50, 150, CodeSuccess},
		{"exactly to cap", 100, 900, 1000, CodeSuccess},
		{"over cap", 100, 901, 100, CodeWalletAmount},
		{"zero amount", 100, 0, 100, CodePointAmount},
		{"negative amount", 100, -5, 100, CodePointAmount},
		{"overflow is cap error", 100, math.MaxInt64, 100, CodeWalletAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWallet(tt.balance, 1000)
			err := w.Earn(tt.amount)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.Equal(t, tt.want, w.Balance)
		})
	}
}

func TestWallet_Debit(t *testing.T) {
	w := newTestWallet(300, 1000)

	require.NoError(t, w.Use(300))
	assert.Zero(t, w.Balance)

	err := w.Use(1)
	assert.ErrorIs(t, err, ErrWalletAmount)
	assert.Zero(t, w.Balance)

	assert.ErrorIs(t, w.CancelEarn(0), ErrPointAmount)
}

func TestWallet_CancelUseRespectsCap(t *testing.T) {
	// GIVEN a wallet whose cap was lowered to its balance
	w := newTestWallet(500, 1000)
	require.NoError(t, w.SetMaxBalance(500))

	// WHEN points come back from a canceled use
	err := w.CancelUse(1)

	// THEN the cap still applies
	assert.ErrorIs(t, err, ErrWalletAmount)
	assert.Equal(t, int64(500), w.Balance)
}

func TestWallet_SetMaxBalance(t *testing.T) {
	w := newTestWallet(500, 1000)

	assert.ErrorIs(t, w.SetMaxBalance(0), ErrValidation)
	assert.ErrorIs(t, w.SetMaxBalance(499), ErrWalletAmount)
	require.NoError(t, w.SetMaxBalance(9_000_000))
	assert.Equal(t, int64(9_000_000), w.MaxBalance)
}
