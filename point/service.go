/*
service.go - The point engine

PURPOSE:
  Service is the single entry point for every balance change. It owns the
  sequence every mutation follows:

    1. Acquire the per-user lock
    2. Open one store transaction
    3. Load the wallet, validate, mutate wallet + batches, append entries
    4. Commit, or roll back everything on any error
    5. Release the lock (always, even on panic)
    6. Publish the committed entries (best effort)

OPERATIONS:
  Earn          New batch, EARN entry                      (this file)
  Use           Allocation across batches, USE entry       (allocation.go)
  CancelEarn    Void an untouched batch, EARN_CANCEL entry (this file)
  CancelUse     Return points batch by batch               (cancellation.go)
  ExpireOverdue Sweep lapsed batches, no user lock         (expire.go)
  SetWalletMax  Admin cap change                           (this file)

DATES:
  Commands carry an optional On date. Zero means today according to the
  service clock. Batch expiry is compared against this date, never the
  wall clock, so tests can replay any calendar.

OBSERVABILITY:
  Each operation gets an OpenTelemetry span, a latency observation by
  result code, and a log line. Internal consistency violations are logged
  at error level; client errors at info.

SEE ALSO:
  - store.go: Persistence contract
  - lock.go: Per-user serialization
*/
package point

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Operation names used in logs, metrics, spans and events.
const (
	OpEarn         = "earn"
	OpUse          = "use"
	OpCancelEarn   = "cancel_earn"
	OpCancelUse    = "cancel_use"
	OpSetWalletMax = "set_wallet_max"
	OpExpire       = "expire"
)

// Event describes the entries one committed operation appended.
type Event struct {
	Operation  string
	UserID     string
	WalletID   WalletID
	Balance    int64
	Entries    []LedgerEntry
	OccurredAt time.Time
}

// Publisher forwards committed events downstream.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Recorder receives operation measurements.
type Recorder interface {
	ObserveOperation(op string, code Code, d time.Duration)
	ObserveLockWait(d time.Duration)
	AddExpired(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, Code, time.Duration) {}
func (nopRecorder) ObserveLockWait(time.Duration)                {}
func (nopRecorder) AddExpired(int)                               {}

// =============================================================================
// SERVICE
// =============================================================================

// Service applies point operations against a TxStore.
type Service struct {
	store     TxStore
	policy    Policy
	keys      KeyGenerator
	locker    Locker
	publisher Publisher
	recorder  Recorder
	log       zerolog.Logger
	clock     func() time.Time
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

func WithLocker(l Locker) Option          { return func(s *Service) { s.locker = l } }
func WithKeys(k KeyGenerator) Option      { return func(s *Service) { s.keys = k } }
func WithPublisher(p Publisher) Option    { return func(s *Service) { s.publisher = p } }
func WithRecorder(r Recorder) Option      { return func(s *Service) { s.recorder = r } }
func WithLogger(l zerolog.Logger) Option  { return func(s *Service) { s.log = l } }
func WithClock(c func() time.Time) Option { return func(s *Service) { s.clock = c } }

// NewService builds a Service. Without options it uses an in-process
// KeyedMutex, UUIDv7 keys, the wall clock and no publisher.
func NewService(store TxStore, policy Policy, opts ...Option) *Service {
	s := &Service{
		store:    store,
		policy:   policy,
		keys:     UUIDKeys{},
		locker:   NewKeyedMutex(),
		recorder: nopRecorder{},
		log:      zerolog.Nop(),
		clock:    time.Now,
		tracer:   otel.Tracer("github.com/warp/point-engine/point"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the current date according to the service clock.
func (s *Service) Today() Date {
	return DateOf(s.clock())
}

// mutation is the body of a locked, transactional operation. It returns
// the wallet after the change and the entries it appended.
type mutation func(ctx context.Context, st Store, now time.Time) (*Wallet, []LedgerEntry, error)

func (s *Service) mutate(ctx context.Context, op, userID string, fn mutation) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "point."+op, trace.WithAttributes(attribute.String("point.user_id", userID)))
	defer func() { s.finish(span, op, userID, start, err) }()

	if strings.TrimSpace(userID) == "" {
		return errorf(ErrValidation, "user id is required")
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()
	s.recorder.ObserveLockWait(time.Since(start))

	now := s.clock()
	var (
		wallet  *Wallet
		entries []LedgerEntry
	)
	err = s.store.WithTx(ctx, func(st Store) error {
		var txErr error
		wallet, entries, txErr = fn(ctx, st, now)
		return txErr
	})
	if err != nil {
		return err
	}

	if s.publisher != nil && wallet != nil && len(entries) > 0 {
		ev := Event{Operation: op, UserID: userID, WalletID: wallet.ID, Balance: wallet.Balance, Entries: entries, OccurredAt: now}
		if perr := s.publisher.Publish(ctx, ev); perr != nil {
			s.log.Warn().Err(perr).Str("op", op).Str("user_id", userID).Msg("publish ledger event")
		}
	}
	return nil
}

func (s *Service) finish(span trace.Span, op, userID string, start time.Time, err error) {
	code := CodeOf(err)
	took := time.Since(start)
	s.recorder.ObserveOperation(op, code, took)
	span.SetAttributes(attribute.String("point.code", string(code)))

	switch {
	case err == nil:
		s.log.Debug().Str("op", op).Str("user_id", userID).Dur("took", took).Msg("committed")
	case IsClientError(err) || IsNotFound(err):
		span.SetStatus(codes.Error, string(code))
		s.log.Info().Str("op", op).Str("user_id", userID).Str("code", string(code)).Err(err).Msg("rejected")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error().Str("op", op).Str("user_id", userID).Str("code", string(code)).Err(err).Msg("rolled back")
	}
	span.End()
}

// walletOf loads the wallet of a user or fails with WALLET_NOT_FOUND.
func walletOf(ctx context.Context, st Store, userID string) (*Wallet, error) {
	w, err := st.WalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errorf(ErrWalletNotFound, "no wallet for user %s", userID)
	}
	return w, nil
}

// =============================================================================
// EARN
// =============================================================================

type EarnCommand struct {
	UserID     string
	Amount     int64
	Kind       string
	ExpireDate Date // zero means policy default
	On         Date // zero means today
}

type EarnResult struct {
	EntryID    EntryID
	EarnID     EarnID
	Balance    int64
	ExpireDate Date
}

// Earn credits a new batch, creating the wallet on first use.
func (s *Service) Earn(ctx context.Context, cmd EarnCommand) (*EarnResult, error) {
	var res *EarnResult
	err := s.mutate(ctx, OpEarn, cmd.UserID, func(ctx context.Context, st Store, now time.Time) (*Wallet, []LedgerEntry, error) {
		if limit := s.policy.MaxEarnAmount(); cmd.Amount < 1 || cmd.Amount > limit {
			return nil, nil, errorf(ErrPointAmount, "earn amount %d outside [1, %d]", cmd.Amount, limit)
		}

		w, err := st.WalletByUser(ctx, cmd.UserID)
		if err != nil {
			return nil, nil, err
		}
		if w == nil {
			w = NewWallet(WalletID(s.keys.NewID()), cmd.UserID, s.policy.DefaultWalletMax(), now)
		}

		kind := ParseEarnKind(cmd.Kind)
		entry := LedgerEntry{ID: EntryID(s.keys.NewID()), WalletID: w.ID, Kind: EntryEarn, Amount: cmd.Amount, CreatedAt: now}
		earn, err := NewEarnRecord(EarnParams{
			ID:         EarnID(s.keys.NewID()),
			WalletID:   w.ID,
			EntryID:    entry.ID,
			Kind:       kind,
			Amount:     cmd.Amount,
			Manual:     kind == EarnManual,
			EarnDate:   cmd.On.or(DateOf(now)),
			ExpireDate: cmd.ExpireDate,
			CreatedAt:  now,
		}, s.policy)
		if err != nil {
			return nil, nil, err
		}
		if err := w.Earn(cmd.Amount); err != nil {
			return nil, nil, err
		}
		w.UpdatedAt = now

		if err := st.SaveWallet(ctx, *w); err != nil {
			return nil, nil, err
		}
		if err := appendEntries(ctx, st, entry); err != nil {
			return nil, nil, err
		}
		if err := st.SaveEarns(ctx, *earn); err != nil {
			return nil, nil, err
		}

		res = &EarnResult{EntryID: entry.ID, EarnID: earn.ID, Balance: w.Balance, ExpireDate: earn.ExpireDate}
		return w, []LedgerEntry{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// =============================================================================
// CANCEL EARN
// =============================================================================

type CancelEarnCommand struct {
	UserID  string
	EntryID EntryID // the EARN entry that created the batch
}

type CancelEarnResult struct {
	EntryID EntryID // the EARN_CANCEL entry
	EarnID  EarnID
	Balance int64
}

// CancelEarn voids a batch nobody has spent from.
func (s *Service) CancelEarn(ctx context.Context, cmd CancelEarnCommand) (*CancelEarnResult, error) {
	var res *CancelEarnResult
	err := s.mutate(ctx, OpCancelEarn, cmd.UserID, func(ctx context.Context, st Store, now time.Time) (*Wallet, []LedgerEntry, error) {
		w, err := walletOf(ctx, st, cmd.UserID)
		if err != nil {
			return nil, nil, err
		}
		earn, err := st.EarnByEntry(ctx, cmd.EntryID)
		if err != nil {
			return nil, nil, err
		}
		if earn == nil || earn.WalletID != w.ID {
			return nil, nil, errorf(ErrEarnNotFound, "no earn for entry %s in wallet %s", cmd.EntryID, w.ID)
		}

		if err := earn.Cancel(); err != nil {
			return nil, nil, err
		}
		if err := w.CancelEarn(earn.OriginalAmount); err != nil {
			return nil, nil, err
		}
		earn.UpdatedAt = now
		w.UpdatedAt = now

		entry := LedgerEntry{ID: EntryID(s.keys.NewID()), WalletID: w.ID, Kind: EntryEarnCancel, Amount: -earn.OriginalAmount, CreatedAt: now}
		record := EarnCancelRecord{
			ID:            EarnCancelID(s.keys.NewID()),
			WalletID:      w.ID,
			EarnID:        earn.ID,
			CancelEntryID: entry.ID,
			Amount:        earn.OriginalAmount,
			CreatedAt:     now,
		}

		if err := st.SaveWallet(ctx, *w); err != nil {
			return nil, nil, err
		}
		if err := appendEntries(ctx, st, entry); err != nil {
			return nil, nil, err
		}
		if err := st.SaveEarns(ctx, *earn); err != nil {
			return nil, nil, err
		}
		if err := st.AppendEarnCancel(ctx, record); err != nil {
			return nil, nil, err
		}

		res = &CancelEarnResult{EntryID: entry.ID, EarnID: earn.ID, Balance: w.Balance}
		return w, []LedgerEntry{entry}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// =============================================================================
// WALLET CAP
// =============================================================================

// SetWalletMax changes the balance cap of a user's wallet.
func (s *Service) SetWalletMax(ctx context.Context, userID string, maxBalance int64) (*Wallet, error) {
	var res *Wallet
	err := s.mutate(ctx, OpSetWalletMax, userID, func(ctx context.Context, st Store, now time.Time) (*Wallet, []LedgerEntry, error) {
		w, err := walletOf(ctx, st, userID)
		if err != nil {
			return nil, nil, err
		}
		if err := w.SetMaxBalance(maxBalance); err != nil {
			return nil, nil, err
		}
		w.UpdatedAt = now
		if err := st.SaveWallet(ctx, *w); err != nil {
			return nil, nil, err
		}
		res = w
		return w, nil, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// =============================================================================
// READ SIDE
// =============================================================================

// Wallet returns the wallet of a user.
func (s *Service) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	return walletOf(ctx, s.store, userID)
}

// Entries returns the ledger of a user in creation order.
func (s *Service) Entries(ctx context.Context, userID string) ([]LedgerEntry, error) {
	w, err := walletOf(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	return s.store.Entries(ctx, w.ID)
}

// Earns returns every batch of a user in creation order.
func (s *Service) Earns(ctx context.Context, userID string) ([]EarnRecord, error) {
	w, err := walletOf(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	return s.store.EarnsByWallet(ctx, w.ID)
}

// Uses returns how a USE entry of the user was spread over batches.
func (s *Service) Uses(ctx context.Context, userID string, entryID EntryID) ([]UseRecord, error) {
	w, err := walletOf(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.Entry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.WalletID != w.ID || entry.Kind != EntryUse {
		return nil, errorf(ErrUnknownKey, "no use entry %s in wallet %s", entryID, w.ID)
	}
	return s.store.UsesByEntry(ctx, entryID)
}

// Report is the result of a consistency check of one wallet.
type Report struct {
	UserID      string
	WalletID    WalletID
	Balance     int64
	LedgerSum   int64
	OutOfBounds []EarnID
}

// Consistent reports whether the ledger matches the wallet and every batch
// is within its bounds.
func (r Report) Consistent() bool {
	return r.Balance == r.LedgerSum && len(r.OutOfBounds) == 0
}

// Check recomputes the wallet balance from the ledger and verifies the
// bounds of every batch, all from one snapshot.
func (s *Service) Check(ctx context.Context, userID string) (*Report, error) {
	var rep *Report
	err := s.store.WithTx(ctx, func(st Store) error {
		w, err := walletOf(ctx, st, userID)
		if err != nil {
			return err
		}
		entries, err := st.Entries(ctx, w.ID)
		if err != nil {
			return err
		}
		earns, err := st.EarnsByWallet(ctx, w.ID)
		if err != nil {
			return err
		}
		rep = &Report{UserID: userID, WalletID: w.ID, Balance: w.Balance, LedgerSum: Sum(entries)}
		for _, e := range earns {
			if e.RemainingBalance < 0 || e.RemainingBalance > e.OriginalAmount {
				rep.OutOfBounds = append(rep.OutOfBounds, e.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rep.Consistent() {
		s.log.Error().Str("user_id", userID).Int64("balance", rep.Balance).Int64("ledger_sum", rep.LedgerSum).
			Int("out_of_bounds", len(rep.OutOfBounds)).Msg("consistency check failed")
	}
	return rep, nil
}
