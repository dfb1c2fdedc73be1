/*
Package sqlite provides a SQLite-backed implementation of point.TxStore.

PURPOSE:
  Persists wallets, the ledger, earn batches and their use/cancel links.
  The same SQL runs on either driver:
    - "sqlite3": github.com/mattn/go-sqlite3 (cgo, default)
    - "sqlite":  modernc.org/sqlite (pure Go, for CGO_ENABLED=0 builds)

APPEND-ONLY ENFORCEMENT:
  - ledger_entries, use_records, use_cancel_records, earn_cancel_records:
    INSERT only. No UPDATE or DELETE statement targets them.
  - wallets, earn_records: upserted, they hold current state.

KEY TABLES:
  wallets:             One row per user, balance and cap
  ledger_entries:      Immutable signed balance changes
  earn_records:        Batches with remaining balance and status
  use_records:         Batch shares of each USE entry
  use_cancel_records:  Returned shares of each use record
  earn_cancel_records: Canceled batch ↔ EARN_CANCEL entry
  policy_settings:     Admin overrides of policy limits

INDEXES:
  - idx_earn_records_allocation: (wallet_id, status, is_manual DESC,
    expire_date, id) serves the keyset page of the allocation engine
  - idx_earn_records_expiry: (status, expire_date) serves the sweep
  - idx_use_records_entry / idx_use_cancel_records_use: cancel-use lookups

CONCURRENCY:
  Writers are serialized by a store mutex and every transaction starts
  with BEGIN IMMEDIATE (_txlock=immediate), so two transactions never race
  for the write lock half-way through. Inside WithTx every read goes
  through the *sql.Tx, so the transaction sees its own writes.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := point.NewService(store, policy)

MIGRATION:
  Schema is auto-migrated on New(). The statements are idempotent.

SEE ALSO:
  - point/store.go: Interface definitions
  - point/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/point-engine/point"
	_ "modernc.org/sqlite"
)

// Driver names accepted by WithDriver.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

const timeLayout = time.RFC3339Nano

// Store implements point.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// direct runs statements on the pool; callers hold mu.
	direct queries
}

var (
	_ point.TxStore = (*Store)(nil)
	_ point.Store   = queries{}
)

// Option configures New.
type Option func(*options)

type options struct {
	driver string
}

// WithDriver selects the database/sql driver: DriverMattn or DriverModernc.
func WithDriver(name string) Option {
	return func(o *options) { o.driver = name }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	o := options{driver: DriverMattn}
	for _, opt := range opts {
		opt(&o)
	}

	dsn, err := dataSource(o.driver, dbPath)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(o.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, direct: queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func dataSource(driver, path string) (string, error) {
	switch driver {
	case DriverMattn:
		return path + "?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000", nil
	case DriverModernc:
		return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		balance INTEGER NOT NULL CHECK (balance >= 0),
		max_balance INTEGER NOT NULL CHECK (max_balance >= 1),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		kind TEXT NOT NULL CHECK (kind IN ('EARN', 'EARN_CANCEL', 'USE', 'USE_CANCEL')),
		amount INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet
		ON ledger_entries(wallet_id);

	-- Earn batches
	CREATE TABLE IF NOT EXISTS earn_records (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		entry_id TEXT NOT NULL UNIQUE REFERENCES ledger_entries(id),
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		original_amount INTEGER NOT NULL CHECK (original_amount > 0),
		remaining_balance INTEGER NOT NULL
			CHECK (remaining_balance >= 0 AND remaining_balance <= original_amount),
		is_manual INTEGER NOT NULL DEFAULT 0,
		ref_use_cancel_id TEXT,
		earn_date TEXT NOT NULL,
		expire_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Keyset page of the allocation engine (hot path)
	CREATE INDEX IF NOT EXISTS idx_earn_records_allocation
		ON earn_records(wallet_id, status, is_manual DESC, expire_date, id);

	-- Expiration sweep
	CREATE INDEX IF NOT EXISTS idx_earn_records_expiry
		ON earn_records(status, expire_date);

	-- Batch shares of uses (append-only)
	CREATE TABLE IF NOT EXISTS use_records (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		use_entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
		earn_id TEXT NOT NULL REFERENCES earn_records(id),
		amount INTEGER NOT NULL CHECK (amount > 0),
		order_ref TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_use_records_entry
		ON use_records(use_entry_id);

	-- Returned shares (append-only)
	CREATE TABLE IF NOT EXISTS use_cancel_records (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		use_id TEXT NOT NULL REFERENCES use_records(id),
		cancel_entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
		amount INTEGER NOT NULL CHECK (amount > 0),
		order_ref TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_use_cancel_records_use
		ON use_cancel_records(use_id);

	-- Canceled batches (append-only)
	CREATE TABLE IF NOT EXISTS earn_cancel_records (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL REFERENCES wallets(id),
		earn_id TEXT NOT NULL UNIQUE REFERENCES earn_records(id),
		cancel_entry_id TEXT NOT NULL REFERENCES ledger_entries(id),
		amount INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Policy overrides
	CREATE TABLE IF NOT EXISTS policy_settings (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ACCESS (point.Store interface)
// =============================================================================

func (s *Store) WalletByUser(ctx context.Context, userID string) (*point.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.WalletByUser(ctx, userID)
}

func (s *Store) SaveWallet(ctx context.Context, w point.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct.SaveWallet(ctx, w)
}

func (s *Store) AppendEntries(ctx context.Context, entries ...point.LedgerEntry) error {
	return s.writeTx(ctx, func(q queries) error { return q.AppendEntries(ctx, entries...) })
}

func (s *Store) Entry(ctx context.Context, id point.EntryID) (*point.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.Entry(ctx, id)
}

func (s *Store) Entries(ctx context.Context, walletID point.WalletID) ([]point.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.Entries(ctx, walletID)
}

func (s *Store) SaveEarns(ctx context.Context, earns ...point.EarnRecord) error {
	return s.writeTx(ctx, func(q queries) error { return q.SaveEarns(ctx, earns...) })
}

func (s *Store) Earn(ctx context.Context, id point.EarnID) (*point.EarnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.Earn(ctx, id)
}

func (s *Store) EarnByEntry(ctx context.Context, entryID point.EntryID) (*point.EarnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.EarnByEntry(ctx, entryID)
}

func (s *Store) EarnsByWallet(ctx context.Context, walletID point.WalletID) ([]point.EarnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.EarnsByWallet(ctx, walletID)
}

func (s *Store) AvailableEarns(ctx context.Context, walletID point.WalletID, asOf point.Date, after *point.EarnCursor, limit int) ([]point.EarnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.AvailableEarns(ctx, walletID, asOf, after, limit)
}

func (s *Store) OverdueEarns(ctx context.Context, ref point.Date, limit int) ([]point.EarnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.OverdueEarns(ctx, ref, limit)
}

func (s *Store) AppendUses(ctx context.Context, uses ...point.UseRecord) error {
	return s.writeTx(ctx, func(q queries) error { return q.AppendUses(ctx, uses...) })
}

func (s *Store) UsesByEntry(ctx context.Context, entryID point.EntryID) ([]point.UseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.UsesByEntry(ctx, entryID)
}

func (s *Store) AppendUseCancels(ctx context.Context, cancels ...point.UseCancelRecord) error {
	return s.writeTx(ctx, func(q queries) error { return q.AppendUseCancels(ctx, cancels...) })
}

func (s *Store) UseCancelsByUseEntry(ctx context.Context, entryID point.EntryID) ([]point.UseCancelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.direct.UseCancelsByUseEntry(ctx, entryID)
}

func (s *Store) AppendEarnCancel(ctx context.Context, c point.EarnCancelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direct.AppendEarnCancel(ctx, c)
}

// =============================================================================
// TRANSACTIONAL STORE (point.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store point.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// writeTx runs multi-row writes outside WithTx atomically.
func (s *Store) writeTx(ctx context.Context, fn func(queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// POLICY SETTINGS
// =============================================================================

// PolicySettings returns every stored policy override.
func (s *Store) PolicySettings(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM policy_settings")
	if err != nil {
		return nil, fmt.Errorf("failed to query policy settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key   string
			value int64
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan policy setting: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// SavePolicySetting stores one override.
func (s *Store) SavePolicySetting(ctx context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save policy setting %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against q without locking. The Store
// methods add locking; inside WithTx the transaction is the lock.
type queries struct {
	q querier
}

const walletColumns = `id, user_id, balance, max_balance, created_at, updated_at`

func (x queries) WalletByUser(ctx context.Context, userID string) (*point.Wallet, error) {
	row := x.q.QueryRowContext(ctx, "SELECT "+walletColumns+" FROM wallets WHERE user_id = ?", userID)
	var (
		w                    point.Wallet
		createdAt, updatedAt string
	)
	err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.MaxBalance, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet of %s: %w", userID, err)
	}
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

func (x queries) SaveWallet(ctx context.Context, w point.Wallet) error {
	_, err := x.q.ExecContext(ctx, `
		INSERT INTO wallets (`+walletColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance,
			max_balance = excluded.max_balance,
			updated_at = excluded.updated_at
	`, string(w.ID), w.UserID, w.Balance, w.MaxBalance, formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: wallet for user %s already exists", point.ErrConflict, w.UserID)
		}
		return fmt.Errorf("failed to save wallet %s: %w", w.ID, err)
	}
	return nil
}

func (x queries) AppendEntries(ctx context.Context, entries ...point.LedgerEntry) error {
	for _, e := range entries {
		_, err := x.q.ExecContext(ctx,
			"INSERT INTO ledger_entries (id, wallet_id, kind, amount, created_at) VALUES (?, ?, ?, ?, ?)",
			string(e.ID), string(e.WalletID), string(e.Kind), e.Amount, formatTime(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to append entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func (x queries) Entry(ctx context.Context, id point.EntryID) (*point.LedgerEntry, error) {
	entries, err := x.queryEntries(ctx, "WHERE id = ?", string(id))
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (x queries) Entries(ctx context.Context, walletID point.WalletID) ([]point.LedgerEntry, error) {
	return x.queryEntries(ctx, "WHERE wallet_id = ? ORDER BY rowid", string(walletID))
}

func (x queries) queryEntries(ctx context.Context, where string, args ...any) ([]point.LedgerEntry, error) {
	rows, err := x.q.QueryContext(ctx, "SELECT id, wallet_id, kind, amount, created_at FROM ledger_entries "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var out []point.LedgerEntry
	for rows.Next() {
		var (
			e         point.LedgerEntry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Kind, &e.Amount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

const earnColumns = `id, wallet_id, entry_id, kind, status, original_amount, remaining_balance,
	is_manual, ref_use_cancel_id, earn_date, expire_date, created_at, updated_at`

func (x queries) SaveEarns(ctx context.Context, earns ...point.EarnRecord) error {
	for _, e := range earns {
		_, err := x.q.ExecContext(ctx, `
			INSERT INTO earn_records (`+earnColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				remaining_balance = excluded.remaining_balance,
				updated_at = excluded.updated_at
		`,
			string(e.ID), string(e.WalletID), string(e.EntryID), string(e.Kind), string(e.Status), e.OriginalAmount, e.RemainingBalance,
			boolInt(e.Manual), nullable(string(e.RefUseCancelID)), e.EarnDate.String(), e.ExpireDate.String(),
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save earn %s: %w", e.ID, err)
		}
	}
	return nil
}

func (x queries) Earn(ctx context.Context, id point.EarnID) (*point.EarnRecord, error) {
	return x.singleEarn(ctx, "WHERE id = ?", string(id))
}

func (x queries) EarnByEntry(ctx context.Context, entryID point.EntryID) (*point.EarnRecord, error) {
	return x.singleEarn(ctx, "WHERE entry_id = ?", string(entryID))
}

func (x queries) singleEarn(ctx context.Context, where string, args ...any) (*point.EarnRecord, error) {
	earns, err := x.queryEarns(ctx, where, args...)
	if err != nil || len(earns) == 0 {
		return nil, err
	}
	return &earns[0], nil
}

func (x queries) EarnsByWallet(ctx context.Context, walletID point.WalletID) ([]point.EarnRecord, error) {
	return x.queryEarns(ctx, "WHERE wallet_id = ? ORDER BY rowid", string(walletID))
}

// AvailableEarns reads one keyset page. The row-value comparison on
// (1 - is_manual, expire_date, id) matches the ORDER BY exactly, so a
// page always resumes right after the previous page's last row.
func (x queries) AvailableEarns(ctx context.Context, walletID point.WalletID, asOf point.Date, after *point.EarnCursor, limit int) ([]point.EarnRecord, error) {
	var sb strings.Builder
	args := []any{string(walletID), string(point.StatusAvailable), asOf.String()}
	sb.WriteString("WHERE wallet_id = ? AND status = ? AND expire_date >= ?")
	if after != nil {
		sb.WriteString(" AND (1 - is_manual, expire_date, id) > (?, ?, ?)")
		args = append(args, 1-boolInt(after.Manual), after.ExpireDate.String(), string(after.EarnID))
	}
	sb.WriteString(" ORDER BY is_manual DESC, expire_date ASC, id ASC LIMIT ?")
	args = append(args, int64(limit))
	return x.queryEarns(ctx, sb.String(), args...)
}

func (x queries) OverdueEarns(ctx context.Context, ref point.Date, limit int) ([]point.EarnRecord, error) {
	return x.queryEarns(ctx,
		"WHERE expire_date < ? AND status NOT IN (?, ?) ORDER BY expire_date, id LIMIT ?",
		ref.String(), string(point.StatusCanceled), string(point.StatusExpired), int64(limit))
}

func (x queries) queryEarns(ctx context.Context, where string, args ...any) ([]point.EarnRecord, error) {
	rows, err := x.q.QueryContext(ctx, "SELECT "+earnColumns+" FROM earn_records "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query earns: %w", err)
	}
	defer rows.Close()

	var out []point.EarnRecord
	for rows.Next() {
		e, err := scanEarn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEarn(rows *sql.Rows) (point.EarnRecord, error) {
	var (
		e                    point.EarnRecord
		manual               int
		refUseCancel         sql.NullString
		earnDate, expireDate string
		createdAt, updatedAt string
	)
	err := rows.Scan(
		&e.ID, &e.WalletID, &e.EntryID, &e.Kind, &e.Status, &e.OriginalAmount, &e.RemainingBalance,
		&manual, &refUseCancel, &earnDate, &expireDate, &createdAt, &updatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan earn: %w", err)
	}
	e.Manual = manual != 0
	e.RefUseCancelID = point.UseCancelID(refUseCancel.String)
	if e.EarnDate, err = point.ParseDate(earnDate); err != nil {
		return e, err
	}
	if e.ExpireDate, err = point.ParseDate(expireDate); err != nil {
		return e, err
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

func (x queries) AppendUses(ctx context.Context, uses ...point.UseRecord) error {
	for _, u := range uses {
		_, err := x.q.ExecContext(ctx, `
			INSERT INTO use_records (id, wallet_id, use_entry_id, earn_id, amount, order_ref, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(u.ID), string(u.WalletID), string(u.UseEntryID), string(u.EarnID), u.Amount, nullable(u.OrderRef), formatTime(u.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to append use %s: %w", u.ID, err)
		}
	}
	return nil
}

func (x queries) UsesByEntry(ctx context.Context, entryID point.EntryID) ([]point.UseRecord, error) {
	rows, err := x.q.QueryContext(ctx, `
		SELECT id, wallet_id, use_entry_id, earn_id, amount, order_ref, created_at
		FROM use_records WHERE use_entry_id = ? ORDER BY rowid
	`, string(entryID))
	if err != nil {
		return nil, fmt.Errorf("failed to query uses: %w", err)
	}
	defer rows.Close()

	var out []point.UseRecord
	for rows.Next() {
		var (
			u         point.UseRecord
			orderRef  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.WalletID, &u.UseEntryID, &u.EarnID, &u.Amount, &orderRef, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan use: %w", err)
		}
		u.OrderRef = orderRef.String
		u.CreatedAt = parseTime(createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (x queries) AppendUseCancels(ctx context.Context, cancels ...point.UseCancelRecord) error {
	for _, c := range cancels {
		_, err := x.q.ExecContext(ctx, `
			INSERT INTO use_cancel_records (id, wallet_id, use_id, cancel_entry_id, amount, order_ref, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(c.ID), string(c.WalletID), string(c.UseID), string(c.CancelEntryID), c.Amount, nullable(c.OrderRef), formatTime(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to append use cancel %s: %w", c.ID, err)
		}
	}
	return nil
}

func (x queries) UseCancelsByUseEntry(ctx context.Context, entryID point.EntryID) ([]point.UseCancelRecord, error) {
	rows, err := x.q.QueryContext(ctx, `
		SELECT c.id, c.wallet_id, c.use_id, c.cancel_entry_id, c.amount, c.order_ref, c.created_at
		FROM use_cancel_records c
		JOIN use_records u ON u.id = c.use_id
		WHERE u.use_entry_id = ?
		ORDER BY c.rowid
	`, string(entryID))
	if err != nil {
		return nil, fmt.Errorf("failed to query use cancels: %w", err)
	}
	defer rows.Close()

	var out []point.UseCancelRecord
	for rows.Next() {
		var (
			c         point.UseCancelRecord
			orderRef  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.WalletID, &c.UseID, &c.CancelEntryID, &c.Amount, &orderRef, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan use cancel: %w", err)
		}
		c.OrderRef = orderRef.String
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (x queries) AppendEarnCancel(ctx context.Context, c point.EarnCancelRecord) error {
	_, err := x.q.ExecContext(ctx, `
		INSERT INTO earn_cancel_records (id, wallet_id, earn_id, cancel_entry_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(c.ID), string(c.WalletID), string(c.EarnID), string(c.CancelEntryID), c.Amount, formatTime(c.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: earn %s already has a cancel record", point.ErrConflict, c.EarnID)
		}
		return fmt.Errorf("failed to append earn cancel %s: %w", c.ID, err)
	}
	return nil
}

// Helper functions

// nullable stores empty strings as NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
