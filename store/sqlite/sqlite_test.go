package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/point-engine/point"
)

var drivers = []string{DriverMattn, DriverModernc}

func newTestStore(t *testing.T, driver string) *Store {
	t.Helper()
	s, err := New(":memory:", WithDriver(driver))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type seqKeys struct {
	mu sync.Mutex
	n  int
}

func (k *seqKeys) NewID() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.n++
	return fmt.Sprintf("id%06d", k.n)
}

var testStart = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func newTestService(s *Store, clock *time.Time) *point.Service {
	return point.NewService(s, point.NewMemoryPolicy(),
		point.WithKeys(&seqKeys{}),
		point.WithClock(func() time.Time { return *clock }),
	)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(":memory:", WithDriver("postgres"))
	assert.ErrorContains(t, err, "unsupported sqlite driver")
}

func TestStore_EndToEnd(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			// GIVEN a fresh database
			s := newTestStore(t, driver)
			now := testStart
			svc := newTestService(s, &now)
			ctx := context.Background()
			today := point.DateOf(now)

			// WHEN running earn, use, sweep and cancel-use
			b1, err := svc.Earn(ctx, point.EarnCommand{UserID: "user-1", Amount: 1000, ExpireDate: today.AddDays(5)})
			require.NoError(t, err)
			b2, err := svc.Earn(ctx, point.EarnCommand{UserID: "user-1", Amount: 500})
			require.NoError(t, err)
			use, err := svc.Use(ctx, point.UseCommand{UserID: "user-1", Amount: 1200, OrderRef: "A1234"})
			require.NoError(t, err)
			assert.Equal(t, []point.Allocation{{EarnID: b1.EarnID, Amount: 1000}, {EarnID: b2.EarnID, Amount: 200}}, use.Allocations)

			now = now.AddDate(0, 0, 6)
			n, err := svc.ExpireOverdue(ctx, point.DateOf(now))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			res, err := svc.CancelUse(ctx, point.CancelUseCommand{UserID: "user-1", EntryID: use.EntryID, Amount: 1100})
			require.NoError(t, err)

			// THEN the state is persisted and consistent
			assert.Equal(t, int64(1400), res.Balance)
			require.Len(t, res.Reissued, 1)

			w, err := s.WalletByUser(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, int64(1400), w.Balance)

			reissued, err := s.Earn(ctx, res.Reissued[0].ID)
			require.NoError(t, err)
			assert.Equal(t, point.EarnReissued, reissued.Kind)
			assert.Equal(t, point.DateOf(now), reissued.EarnDate)
			assert.Equal(t, res.Reissued[0].RefUseCancelID, reissued.RefUseCancelID)

			expired, err := s.Earn(ctx, b1.EarnID)
			require.NoError(t, err)
			assert.Equal(t, point.StatusExpired, expired.Status)

			uses, err := s.UsesByEntry(ctx, use.EntryID)
			require.NoError(t, err)
			require.Len(t, uses, 2)
			assert.Equal(t, "A1234", uses[0].OrderRef)

			cancels, err := s.UseCancelsByUseEntry(ctx, use.EntryID)
			require.NoError(t, err)
			require.Len(t, cancels, 2)
			assert.Equal(t, int64(1000), cancels[0].Amount)
			assert.Equal(t, int64(100), cancels[1].Amount)

			rep, err := svc.Check(ctx, "user-1")
			require.NoError(t, err)
			assert.True(t, rep.Consistent())
		})
	}
}

func TestStore_AvailableEarnsKeyset(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := newTestStore(t, driver)
			ctx := context.Background()
			day := point.NewDate(2026, 1, 10)

			// GIVEN batches mixing manual flags and expiry dates
			require.NoError(t, s.SaveWallet(ctx, point.Wallet{ID: "w", UserID: "u", MaxBalance: 1_000_000}))
			type batch struct {
				id     string
				manual bool
				expire int
			}
			batches := []batch{
				{"e1", false, 5}, {"e2", true, 10}, {"e3", false, 3},
				{"e4", true, 2}, {"e5", false, 5}, {"e6", false, 3},
			}
			for _, sp := range batches {
				entry := point.LedgerEntry{ID: point.EntryID("entry-" + sp.id), WalletID: "w", Kind: point.EntryEarn, Amount: 10}
				require.NoError(t, s.AppendEntries(ctx, entry))
				require.NoError(t, s.SaveEarns(ctx, point.EarnRecord{
					ID: point.EarnID(sp.id), WalletID: "w", EntryID: entry.ID, Kind: point.EarnGeneral,
					Status: point.StatusAvailable, OriginalAmount: 10, RemainingBalance: 10,
					Manual: sp.manual, EarnDate: day, ExpireDate: day.AddDays(sp.expire),
				}))
			}

			// WHEN paging two at a time
			var (
				got    []point.EarnID
				cursor *point.EarnCursor
			)
			for {
				page, err := s.AvailableEarns(ctx, "w", day, cursor, 2)
				require.NoError(t, err)
				for _, e := range page {
					got = append(got, e.ID)
					c := point.CursorOf(e)
					cursor = &c
				}
				if len(page) < 2 {
					break
				}
			}

			// THEN the full priority order comes back exactly once
			assert.Equal(t, []point.EarnID{"e4", "e2", "e3", "e6", "e1", "e5"}, got)

			// AND batches that lapsed before the date are excluded
			page, err := s.AvailableEarns(ctx, "w", day.AddDays(4), nil, 10)
			require.NoError(t, err)
			ids := make([]point.EarnID, len(page))
			for i, e := range page {
				ids[i] = e.ID
			}
			assert.Equal(t, []point.EarnID{"e2", "e1", "e5"}, ids)
		})
	}
}

func TestStore_SweepPagesAndIsIdempotent(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s := newTestStore(t, driver)
			now := testStart
			svc := newTestService(s, &now)
			ctx := context.Background()

			// GIVEN more overdue batches than one sweep page
			for i := 0; i < 520; i++ {
				_, err := svc.Earn(ctx, point.EarnCommand{
					UserID:     fmt.Sprintf("user-%d", i%7),
					Amount:     1,
					ExpireDate: point.DateOf(now).AddDays(1),
				})
				require.NoError(t, err)
			}
			ref := point.DateOf(now).AddDays(2)

			n, err := svc.ExpireOverdue(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, 520, n)

			n, err = svc.ExpireOverdue(ctx, ref)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t, DriverMattn)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(st point.Store) error {
		require.NoError(t, st.SaveWallet(ctx, point.Wallet{ID: "w", UserID: "u", Balance: 10, MaxBalance: 100}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, err := s.WalletByUser(ctx, "u")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestStore_MissingRowsAreNil(t *testing.T) {
	s := newTestStore(t, DriverModernc)
	ctx := context.Background()

	w, err := s.WalletByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, w)

	e, err := s.Entry(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, e)

	earn, err := s.EarnByEntry(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, earn)
}

func TestStore_DuplicateEarnCancelIsConflict(t *testing.T) {
	s := newTestStore(t, DriverMattn)
	now := testStart
	svc := newTestService(s, &now)
	ctx := context.Background()

	res, err := svc.Earn(ctx, point.EarnCommand{UserID: "u", Amount: 10})
	require.NoError(t, err)
	_, err = svc.CancelEarn(ctx, point.CancelEarnCommand{UserID: "u", EntryID: res.EntryID})
	require.NoError(t, err)

	// a second record for the same earn violates the unique key
	require.NoError(t, s.AppendEntries(ctx, point.LedgerEntry{ID: "x", WalletID: mustWallet(t, s, "u"), Kind: point.EntryEarnCancel, Amount: -10}))
	err = s.AppendEarnCancel(ctx, point.EarnCancelRecord{ID: "dup", WalletID: mustWallet(t, s, "u"), EarnID: res.EarnID, CancelEntryID: "x", Amount: 10})
	assert.ErrorIs(t, err, point.ErrConflict)
}

func mustWallet(t *testing.T, s *Store, user string) point.WalletID {
	t.Helper()
	w, err := s.WalletByUser(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, w)
	return w.ID
}

func TestStore_PolicySettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "points.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.SavePolicySetting(ctx, point.KeyMaxEarnAmount, 1_000_000))
	require.NoError(t, s.SavePolicySetting(ctx, point.KeyMaxEarnAmount, 2_000_000))
	require.NoError(t, s.Close())

	// reopening the file keeps the override
	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.PolicySettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{point.KeyMaxEarnAmount: 2_000_000}, got)
}

func TestStore_ConcurrentUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.db")
	s, err := New(path, WithDriver(DriverModernc))
	require.NoError(t, err)
	defer s.Close()

	now := testStart
	svc := newTestService(s, &now)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%4)
			if _, err := svc.Earn(ctx, point.EarnCommand{UserID: user, Amount: 100}); err != nil {
				errs <- err
				return
			}
			if _, err := svc.Use(ctx, point.UseCommand{UserID: user, Amount: 60}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for u := 0; u < 4; u++ {
		rep, err := svc.Check(ctx, fmt.Sprintf("user-%d", u))
		require.NoError(t, err)
		assert.Equal(t, int64(400), rep.Balance)
		assert.True(t, rep.Consistent())
	}
}
