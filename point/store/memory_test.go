package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/point-engine/point"
)

var day0 = point.NewDate(2026, 1, 10)

func seedEarn(t *testing.T, m *Memory, id string, manual bool, expireIn int, remaining int64) {
	t.Helper()
	ctx := context.Background()
	entry := point.LedgerEntry{ID: point.EntryID("entry-" + id), WalletID: "w", Kind: point.EntryEarn, Amount: 100}
	require.NoError(t, m.AppendEntries(ctx, entry))
	status := point.StatusAvailable
	if remaining == 0 {
		status = point.StatusUnavailable
	}
	require.NoError(t, m.SaveEarns(ctx, point.EarnRecord{
		ID: point.EarnID(id), WalletID: "w", EntryID: entry.ID, Kind: point.EarnGeneral, Status: status,
		OriginalAmount: 100, RemainingBalance: remaining, Manual: manual,
		EarnDate: day0, ExpireDate: day0.AddDays(expireIn),
	}))
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN a wallet
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveWallet(ctx, point.Wallet{ID: "w", UserID: "u", Balance: 10, MaxBalance: 100}))
	boom := errors.New("boom")

	// WHEN a transaction changes it and fails
	err := m.WithTx(ctx, func(st point.Store) error {
		require.NoError(t, st.SaveWallet(ctx, point.Wallet{ID: "w", UserID: "u", Balance: 99, MaxBalance: 100}))
		require.NoError(t, st.AppendEntries(ctx, point.LedgerEntry{ID: "e", WalletID: "w", Kind: point.EntryEarn, Amount: 89}))
		return boom
	})

	// THEN nothing it wrote survives
	assert.ErrorIs(t, err, boom)
	w, err := m.WalletByUser(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(10), w.Balance)
	entry, err := m.Entry(ctx, "e")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMemory_WithTxRollsBackOnPanic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = m.WithTx(ctx, func(st point.Store) error {
			_ = st.SaveWallet(ctx, point.Wallet{ID: "w", UserID: "u", MaxBalance: 100})
			panic("mid-transaction")
		})
	})

	w, err := m.WalletByUser(ctx, "u")
	require.NoError(t, err)
	assert.Nil(t, w)

	// the store is still usable afterwards
	require.NoError(t, m.WithTx(ctx, func(st point.Store) error {
		return st.SaveWallet(ctx, point.Wallet{ID: "w", UserID: "u", MaxBalance: 100})
	}))
}

func TestMemory_AvailableEarnsOrderAndCursor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedEarn(t, m, "b", false, 5, 100)
	seedEarn(t, m, "a", false, 5, 100)
	seedEarn(t, m, "m", true, 30, 100)
	seedEarn(t, m, "c", false, 1, 100)
	seedEarn(t, m, "drained", false, 1, 0)

	page, err := m.AvailableEarns(ctx, "w", day0, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, point.EarnID("m"), page[0].ID)
	assert.Equal(t, point.EarnID("c"), page[1].ID)

	cursor := point.CursorOf(page[1])
	page, err = m.AvailableEarns(ctx, "w", day0, &cursor, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, point.EarnID("a"), page[0].ID)
	assert.Equal(t, point.EarnID("b"), page[1].ID)

	// c lapsed before day0+2
	page, err = m.AvailableEarns(ctx, "w", day0.AddDays(2), nil, 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func TestMemory_OverdueEarns(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedEarn(t, m, "x1", false, 1, 100)
	seedEarn(t, m, "x2", false, 1, 0)
	seedEarn(t, m, "x3", false, 1, 50)
	seedEarn(t, m, "live", false, 10, 100)

	// expiry day itself is not overdue
	page, err := m.OverdueEarns(ctx, day0.AddDays(1), 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = m.OverdueEarns(ctx, day0.AddDays(2), 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, point.EarnID("x1"), page[0].ID)

	page[0].Expire()
	require.NoError(t, m.SaveEarns(ctx, page[0]))
	page, err = m.OverdueEarns(ctx, day0.AddDays(2), 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestMemory_UseCancelsByUseEntry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.AppendUses(ctx,
		point.UseRecord{ID: "u1", WalletID: "w", UseEntryID: "use-1", EarnID: "a", Amount: 5},
		point.UseRecord{ID: "u2", WalletID: "w", UseEntryID: "use-2", EarnID: "a", Amount: 5},
	))
	require.NoError(t, m.AppendUseCancels(ctx,
		point.UseCancelRecord{ID: "c1", UseID: "u1", Amount: 2},
		point.UseCancelRecord{ID: "c2", UseID: "u2", Amount: 3},
	))

	got, err := m.UseCancelsByUseEntry(ctx, "use-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, point.UseCancelID("c1"), got[0].ID)
}
