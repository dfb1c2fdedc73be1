/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation results

AMOUNTS:
  Request amounts are decimals so a client sending 10.5 or 1e30 gets a
  POINT_AMOUNT_ERR instead of a silently truncated or wrapped integer.
  Responses carry plain integers.

DATES:
  Request dates accept 2006-01-02 or 20060102. Empty means today.
  Responses always use 2006-01-02.
*/
package api

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/point-engine/point"
)

var maxPoints = decimal.NewFromInt(math.MaxInt64)

// wholePoints converts a request amount to points.
func wholePoints(d decimal.Decimal) (int64, error) {
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s is not a whole number", point.ErrPointAmount, d)
	}
	if d.Abs().GreaterThan(maxPoints) {
		return 0, fmt.Errorf("%w: amount %s is too large", point.ErrPointAmount, d)
	}
	return d.IntPart(), nil
}

// =============================================================================
// REQUESTS
// =============================================================================

type EarnRequest struct {
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Kind       string          `json:"kind,omitempty"`
	ExpireDate string          `json:"expire_date,omitempty"`
	Date       string          `json:"date,omitempty"`
}

type UseRequest struct {
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	OrderRef string          `json:"order_ref,omitempty"`
	Date     string          `json:"date,omitempty"`
}

type CancelEarnRequest struct {
	UserID  string `json:"user_id"`
	EntryID string `json:"entry_id"`
}

type CancelUseRequest struct {
	UserID  string          `json:"user_id"`
	EntryID string          `json:"entry_id"`
	Amount  decimal.Decimal `json:"amount"`
	Date    string          `json:"date,omitempty"`
}

type SetWalletMaxRequest struct {
	MaxBalance decimal.Decimal `json:"max_balance"`
}

type ExpireRequest struct {
	Date string `json:"date,omitempty"`
}

// PolicyUpdateRequest maps policy keys (MAX_EXPIRE_DAYS, ...) to values.
type PolicyUpdateRequest map[string]decimal.Decimal

// =============================================================================
// RESPONSES
// =============================================================================

type AllocationDTO struct {
	EarnID string `json:"earn_id"`
	Amount int64  `json:"amount"`
}

type EarnResponse struct {
	Code       string `json:"code"`
	EntryID    string `json:"entry_id"`
	EarnID     string `json:"earn_id"`
	Balance    int64  `json:"balance"`
	ExpireDate string `json:"expire_date"`
}

type UseResponse struct {
	Code        string          `json:"code"`
	EntryID     string          `json:"entry_id"`
	Balance     int64           `json:"balance"`
	Allocations []AllocationDTO `json:"allocations"`
}

type CancelEarnResponse struct {
	Code    string `json:"code"`
	EntryID string `json:"entry_id"`
	EarnID  string `json:"earn_id"`
	Balance int64  `json:"balance"`
}

type CancelUseResponse struct {
	Code     string          `json:"code"`
	EntryID  string          `json:"entry_id"`
	Balance  int64           `json:"balance"`
	Restored []AllocationDTO `json:"restored"`
	Reissued []EarnDTO       `json:"reissued"`
}

type ExpireResponse struct {
	Code    string `json:"code"`
	Date    string `json:"date"`
	Expired int    `json:"expired"`
}

type WalletDTO struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	MaxBalance int64  `json:"max_balance"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type EntryDTO struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Amount    int64  `json:"amount"`
	CreatedAt string `json:"created_at"`
}

type EarnDTO struct {
	ID               string `json:"id"`
	EntryID          string `json:"entry_id"`
	Kind             string `json:"kind"`
	Status           string `json:"status"`
	OriginalAmount   int64  `json:"original_amount"`
	RemainingBalance int64  `json:"remaining_balance"`
	Manual           bool   `json:"manual"`
	EarnDate         string `json:"earn_date"`
	ExpireDate       string `json:"expire_date"`
	RefUseCancelID   string `json:"ref_use_cancel_id,omitempty"`
}

type UseDTO struct {
	ID        string `json:"id"`
	EarnID    string `json:"earn_id"`
	Amount    int64  `json:"amount"`
	OrderRef  string `json:"order_ref,omitempty"`
	CreatedAt string `json:"created_at"`
}

type CheckDTO struct {
	Consistent  bool     `json:"consistent"`
	Balance     int64    `json:"balance"`
	LedgerSum   int64    `json:"ledger_sum"`
	OutOfBounds []string `json:"out_of_bounds"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func allocationDTOs(allocs []point.Allocation) []AllocationDTO {
	out := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		out[i] = AllocationDTO{EarnID: string(a.EarnID), Amount: a.Amount}
	}
	return out
}

func toWalletDTO(w point.Wallet) WalletDTO {
	return WalletDTO{
		ID:         string(w.ID),
		UserID:     w.UserID,
		Balance:    w.Balance,
		MaxBalance: w.MaxBalance,
		CreatedAt:  w.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  w.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []point.LedgerEntry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = EntryDTO{
			ID:        string(e.ID),
			Kind:      string(e.Kind),
			Amount:    e.Amount,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}

func toEarnDTO(e point.EarnRecord) EarnDTO {
	return EarnDTO{
		ID:               string(e.ID),
		EntryID:          string(e.EntryID),
		Kind:             string(e.Kind),
		Status:           string(e.Status),
		OriginalAmount:   e.OriginalAmount,
		RemainingBalance: e.RemainingBalance,
		Manual:           e.Manual,
		EarnDate:         e.EarnDate.String(),
		ExpireDate:       e.ExpireDate.String(),
		RefUseCancelID:   string(e.RefUseCancelID),
	}
}

func toEarnDTOs(earns []point.EarnRecord) []EarnDTO {
	out := make([]EarnDTO, len(earns))
	for i, e := range earns {
		out[i] = toEarnDTO(e)
	}
	return out
}

func toUseDTOs(uses []point.UseRecord) []UseDTO {
	out := make([]UseDTO, len(uses))
	for i, u := range uses {
		out[i] = UseDTO{
			ID:        string(u.ID),
			EarnID:    string(u.EarnID),
			Amount:    u.Amount,
			OrderRef:  u.OrderRef,
			CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}
