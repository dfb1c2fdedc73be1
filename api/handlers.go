/*
handlers.go - HTTP API handlers for the point engine

PURPOSE:
  Exposes the point engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to point.Service.

ENDPOINTS:
  Points:
    POST   /api/v1/points/earn               Earn points (creates wallet)
    POST   /api/v1/points/use                Use points
    POST   /api/v1/points/earn/cancel        Cancel an untouched earn
    POST   /api/v1/points/use/cancel         Return part or all of a use

  Wallets:
    GET    /api/v1/wallets/{userID}                  Wallet
    GET    /api/v1/wallets/{userID}/entries          Ledger
    GET    /api/v1/wallets/{userID}/earns            Batches
    GET    /api/v1/wallets/{userID}/uses/{entryID}   Allocation of one use
    GET    /api/v1/wallets/{userID}/check            Ledger vs balance
    PUT    /api/v1/wallets/{userID}/max              Change the cap

  Admin:
    GET    /api/v1/policy                    Current policy values
    PUT    /api/v1/policy                    Change policy values
    POST   /api/v1/admin/expire              Run the expiration sweep

ERROR HANDLING:
  Every failure carries the engine result code:
  - 400: Invalid amount, date, cap or policy
  - 404: Unknown wallet, entry or earn
  - 409: Earn already canceled, expired or used; use already returned
  - 500: Storage failure or internal inconsistency (opaque message)

SECURITY NOTE:
  No authentication. Deploy behind a gateway that authenticates callers
  and restricts /api/v1/admin and /api/v1/policy.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/point-engine/point"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// PolicyStore persists policy changes. *sqlite.Store implements it.
type PolicyStore interface {
	SavePolicySetting(ctx context.Context, key string, value int64) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *point.Service
	Policy   *point.MemoryPolicy
	Settings PolicyStore // nil keeps policy changes in memory only
	Log      zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *point.Service, policy *point.MemoryPolicy, settings PolicyStore, log zerolog.Logger) *Handler {
	return &Handler{Service: svc, Policy: policy, Settings: settings, Log: log}
}

// =============================================================================
// POINT OPERATIONS
// =============================================================================

// Earn credits a new batch.
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	var req EarnRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := wholePoints(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	expire, err := point.ParseDate(req.ExpireDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	on, err := point.ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Service.Earn(r.Context(), point.EarnCommand{
		UserID:     req.UserID,
		Amount:     amount,
		Kind:       req.Kind,
		ExpireDate: expire,
		On:         on,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, EarnResponse{
		Code:       string(point.CodeSuccess),
		EntryID:    string(res.EntryID),
		EarnID:     string(res.EarnID),
		Balance:    res.Balance,
		ExpireDate: res.ExpireDate.String(),
	})
}

// Use spends points.
func (h *Handler) Use(w http.ResponseWriter, r *http.Request) {
	var req UseRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := wholePoints(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	on, err := point.ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Service.Use(r.Context(), point.UseCommand{
		UserID:   req.UserID,
		Amount:   amount,
		OrderRef: req.OrderRef,
		On:       on,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, UseResponse{
		Code:        string(point.CodeSuccess),
		EntryID:     string(res.EntryID),
		Balance:     res.Balance,
		Allocations: allocationDTOs(res.Allocations),
	})
}

// CancelEarn voids a batch nobody has spent from.
func (h *Handler) CancelEarn(w http.ResponseWriter, r *http.Request) {
	var req CancelEarnRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Service.CancelEarn(r.Context(), point.CancelEarnCommand{
		UserID:  req.UserID,
		EntryID: point.EntryID(req.EntryID),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CancelEarnResponse{
		Code:    string(point.CodeSuccess),
		EntryID: string(res.EntryID),
		EarnID:  string(res.EarnID),
		Balance: res.Balance,
	})
}

// CancelUse returns part or all of a use.
func (h *Handler) CancelUse(w http.ResponseWriter, r *http.Request) {
	var req CancelUseRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := wholePoints(req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	on, err := point.ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Service.CancelUse(r.Context(), point.CancelUseCommand{
		UserID:  req.UserID,
		EntryID: point.EntryID(req.EntryID),
		Amount:  amount,
		On:      on,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CancelUseResponse{
		Code:     string(point.CodeSuccess),
		EntryID:  string(res.EntryID),
		Balance:  res.Balance,
		Restored: allocationDTOs(res.Restored),
		Reissued: toEarnDTOs(res.Reissued),
	})
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.Service.Wallet(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wallet))
}

func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.Entries(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) GetEarns(w http.ResponseWriter, r *http.Request) {
	earns, err := h.Service.Earns(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEarnDTOs(earns))
}

func (h *Handler) GetUses(w http.ResponseWriter, r *http.Request) {
	uses, err := h.Service.Uses(r.Context(), chi.URLParam(r, "userID"), point.EntryID(chi.URLParam(r, "entryID")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUseDTOs(uses))
}

// CheckWallet recomputes the balance from the ledger.
func (h *Handler) CheckWallet(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Service.Check(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := CheckDTO{
		Consistent:  rep.Consistent(),
		Balance:     rep.Balance,
		LedgerSum:   rep.LedgerSum,
		OutOfBounds: make([]string, len(rep.OutOfBounds)),
	}
	for i, id := range rep.OutOfBounds {
		out.OutOfBounds[i] = string(id)
	}
	writeJSON(w, http.StatusOK, out)
}

// SetWalletMax changes the balance cap of one wallet.
func (h *Handler) SetWalletMax(w http.ResponseWriter, r *http.Request) {
	var req SetWalletMaxRequest
	if !decode(w, r, &req) {
		return
	}
	limit, err := wholePoints(req.MaxBalance)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	wallet, err := h.Service.SetWalletMax(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wallet))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Policy.Snapshot())
}

// UpdatePolicy validates the whole change set against the current values,
// persists it, then applies it. A rejected set changes nothing.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	values := make(map[string]int64, len(req))
	for key, d := range req {
		v, err := wholePoints(d)
		if err != nil {
			h.fail(w, r, fmt.Errorf("%w: %s: %v", point.ErrValidation, key, err))
			return
		}
		values[key] = v
	}

	trial := point.NewMemoryPolicy()
	if err := trial.Load(h.Policy.Snapshot()); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := trial.Load(values); err != nil {
		h.fail(w, r, err)
		return
	}

	if h.Settings != nil {
		for key, v := range values {
			if err := h.Settings.SavePolicySetting(r.Context(), key, v); err != nil {
				h.fail(w, r, err)
				return
			}
		}
	}
	if err := h.Policy.Load(values); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Log.Info().Str("policy", h.Policy.String()).Msg("policy updated")
	writeJSON(w, http.StatusOK, h.Policy.Snapshot())
}

// Expire runs the expiration sweep for the given date, today by default.
func (h *Handler) Expire(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	ref, err := point.ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ref.IsZero() {
		ref = h.Service.Today()
	}
	n, err := h.Service.ExpireOverdue(r.Context(), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpireResponse{Code: string(point.CodeSuccess), Date: ref.String(), Expired: n})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code:  string(point.CodeValidation),
			Error: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

// statusOf maps an engine error to an HTTP status.
func statusOf(err error) int {
	switch {
	case point.IsInconsistent(err):
		return http.StatusInternalServerError
	case point.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, point.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, point.ErrBounds):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err. Server errors never leak their message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := ErrorResponse{Code: string(point.CodeOf(err)), Error: err.Error()}
	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp = ErrorResponse{Code: string(point.CodeSystem), Error: "internal error"}
	}
	writeJSON(w, status, resp)
}
