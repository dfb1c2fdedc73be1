// Package store provides in-process point.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/point-engine/point"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps all state in maps guarded by one RWMutex. WithTx holds the
// write lock for the whole transaction and restores a snapshot when the
// function fails or panics.
type Memory struct {
	mu sync.RWMutex
	st *state
}

var (
	_ point.TxStore = (*Memory)(nil)
	_ point.Store   = (*state)(nil)
)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(point.Store) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	committed := false
	defer func() {
		if !committed {
			m.st = snapshot
		}
	}()

	if err := fn(m.st); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *Memory) WalletByUser(ctx context.Context, userID string) (*point.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.WalletByUser(ctx, userID)
}

func (m *Memory) SaveWallet(ctx context.Context, w point.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveWallet(ctx, w)
}

func (m *Memory) AppendEntries(ctx context.Context, entries ...point.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendEntries(ctx, entries...)
}

func (m *Memory) Entry(ctx context.Context, id point.EntryID) (*point.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Entry(ctx, id)
}

func (m *Memory) Entries(ctx context.Context, walletID point.WalletID) ([]point.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Entries(ctx, walletID)
}

func (m *Memory) SaveEarns(ctx context.Context, earns ...point.EarnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveEarns(ctx, earns...)
}

func (m *Memory) Earn(ctx context.Context, id point.EarnID) (*point.EarnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Earn(ctx, id)
}

func (m *Memory) EarnByEntry(ctx context.Context, entryID point.EntryID) (*point.EarnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.EarnByEntry(ctx, entryID)
}

func (m *Memory) EarnsByWallet(ctx context.Context, walletID point.WalletID) ([]point.EarnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.EarnsByWallet(ctx, walletID)
}

func (m *Memory) AvailableEarns(ctx context.Context, walletID point.WalletID, asOf point.Date, after *point.EarnCursor, limit int) ([]point.EarnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.AvailableEarns(ctx, walletID, asOf, after, limit)
}

func (m *Memory) OverdueEarns(ctx context.Context, ref point.Date, limit int) ([]point.EarnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.OverdueEarns(ctx, ref, limit)
}

func (m *Memory) AppendUses(ctx context.Context, uses ...point.UseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendUses(ctx, uses...)
}

func (m *Memory) UsesByEntry(ctx context.Context, entryID point.EntryID) ([]point.UseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.UsesByEntry(ctx, entryID)
}

func (m *Memory) AppendUseCancels(ctx context.Context, cancels ...point.UseCancelRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendUseCancels(ctx, cancels...)
}

func (m *Memory) UseCancelsByUseEntry(ctx context.Context, entryID point.EntryID) ([]point.UseCancelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.UseCancelsByUseEntry(ctx, entryID)
}

func (m *Memory) AppendEarnCancel(ctx context.Context, c point.EarnCancelRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendEarnCancel(ctx, c)
}

// =============================================================================
// STATE - Unlocked view used directly inside transactions
// =============================================================================

type state struct {
	wallets      map[point.WalletID]point.Wallet
	walletByUser map[string]point.WalletID
	entries      []point.LedgerEntry
	entryIndex   map[point.EntryID]int
	earns        map[point.EarnID]point.EarnRecord
	earnOrder    []point.EarnID
	earnByEntry  map[point.EntryID]point.EarnID
	uses         []point.UseRecord
	useCancels   []point.UseCancelRecord
	earnCancels  []point.EarnCancelRecord
}

func newState() *state {
	return &state{
		wallets:      make(map[point.WalletID]point.Wallet),
		walletByUser: make(map[string]point.WalletID),
		entryIndex:   make(map[point.EntryID]int),
		earns:        make(map[point.EarnID]point.EarnRecord),
		earnByEntry:  make(map[point.EntryID]point.EarnID),
	}
}

func (s *state) clone() *state {
	c := &state{
		wallets:      make(map[point.WalletID]point.Wallet, len(s.wallets)),
		walletByUser: make(map[string]point.WalletID, len(s.walletByUser)),
		entries:      append([]point.LedgerEntry(nil), s.entries...),
		entryIndex:   make(map[point.EntryID]int, len(s.entryIndex)),
		earns:        make(map[point.EarnID]point.EarnRecord, len(s.earns)),
		earnOrder:    append([]point.EarnID(nil), s.earnOrder...),
		earnByEntry:  make(map[point.EntryID]point.EarnID, len(s.earnByEntry)),
		uses:         append([]point.UseRecord(nil), s.uses...),
		useCancels:   append([]point.UseCancelRecord(nil), s.useCancels...),
		earnCancels:  append([]point.EarnCancelRecord(nil), s.earnCancels...),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.walletByUser {
		c.walletByUser[k] = v
	}
	for k, v := range s.entryIndex {
		c.entryIndex[k] = v
	}
	for k, v := range s.earns {
		c.earns[k] = v
	}
	for k, v := range s.earnByEntry {
		c.earnByEntry[k] = v
	}
	return c
}

func (s *state) WalletByUser(_ context.Context, userID string) (*point.Wallet, error) {
	id, ok := s.walletByUser[userID]
	if !ok {
		return nil, nil
	}
	w := s.wallets[id]
	return &w, nil
}

func (s *state) SaveWallet(_ context.Context, w point.Wallet) error {
	s.wallets[w.ID] = w
	s.walletByUser[w.UserID] = w.ID
	return nil
}

func (s *state) AppendEntries(_ context.Context, entries ...point.LedgerEntry) error {
	for _, e := range entries {
		s.entryIndex[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return nil
}

func (s *state) Entry(_ context.Context, id point.EntryID) (*point.LedgerEntry, error) {
	i, ok := s.entryIndex[id]
	if !ok {
		return nil, nil
	}
	e := s.entries[i]
	return &e, nil
}

func (s *state) Entries(_ context.Context, walletID point.WalletID) ([]point.LedgerEntry, error) {
	var out []point.LedgerEntry
	for _, e := range s.entries {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *state) SaveEarns(_ context.Context, earns ...point.EarnRecord) error {
	for _, e := range earns {
		if _, ok := s.earns[e.ID]; !ok {
			s.earnOrder = append(s.earnOrder, e.ID)
			s.earnByEntry[e.EntryID] = e.ID
		}
		s.earns[e.ID] = e
	}
	return nil
}

func (s *state) Earn(_ context.Context, id point.EarnID) (*point.EarnRecord, error) {
	e, ok := s.earns[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *state) EarnByEntry(ctx context.Context, entryID point.EntryID) (*point.EarnRecord, error) {
	id, ok := s.earnByEntry[entryID]
	if !ok {
		return nil, nil
	}
	return s.Earn(ctx, id)
}

func (s *state) EarnsByWallet(_ context.Context, walletID point.WalletID) ([]point.EarnRecord, error) {
	var out []point.EarnRecord
	for _, id := range s.earnOrder {
		if e := s.earns[id]; e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *state) AvailableEarns(_ context.Context, walletID point.WalletID, asOf point.Date, after *point.EarnCursor, limit int) ([]point.EarnRecord, error) {
	var out []point.EarnRecord
	for _, e := range s.earns {
		if e.WalletID != walletID || e.Status != point.StatusAvailable || e.ExpireDate.Before(asOf) {
			continue
		}
		if after != nil && !after.Less(point.CursorOf(e)) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return point.CursorOf(out[i]).Less(point.CursorOf(out[j]))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *state) OverdueEarns(_ context.Context, ref point.Date, limit int) ([]point.EarnRecord, error) {
	var out []point.EarnRecord
	for _, id := range s.earnOrder {
		e := s.earns[id]
		if e.ExpireDate.Before(ref) && !e.Status.Terminal() {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *state) AppendUses(_ context.Context, uses ...point.UseRecord) error {
	s.uses = append(s.uses, uses...)
	return nil
}

func (s *state) UsesByEntry(_ context.Context, entryID point.EntryID) ([]point.UseRecord, error) {
	var out []point.UseRecord
	for _, u := range s.uses {
		if u.UseEntryID == entryID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *state) AppendUseCancels(_ context.Context, cancels ...point.UseCancelRecord) error {
	s.useCancels = append(s.useCancels, cancels...)
	return nil
}

func (s *state) UseCancelsByUseEntry(_ context.Context, entryID point.EntryID) ([]point.UseCancelRecord, error) {
	useIDs := make(map[point.UseID]bool)
	for _, u := range s.uses {
		if u.UseEntryID == entryID {
			useIDs[u.ID] = true
		}
	}
	var out []point.UseCancelRecord
	for _, c := range s.useCancels {
		if useIDs[c.UseID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *state) AppendEarnCancel(_ context.Context, c point.EarnCancelRecord) error {
	s.earnCancels = append(s.earnCancels, c)
	return nil
}
