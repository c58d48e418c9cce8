package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tablestakes/platform/internal/auth"
	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/guard"
	"github.com/tablestakes/platform/internal/service"
)

// CreateBet commits a bet proposal. The bets rate limit applies per
// user-table pair, and Idempotency-Key replays return the stored response.
func (h *Handler) CreateBet(w http.ResponseWriter, r *http.Request) {
	tableID, err := uuid.Parse(chi.URLParam(r, "tableID"))
	if err != nil {
		RespondError(w, r, domain.ErrValidation("invalid table id", domain.FieldError{Field: "tableID", Message: "must be a UUID"}))
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	if !h.allowWrite(w, r, guard.KindBets, userID.String()+":"+tableID.String()) {
		return
	}

	// The idempotency claim is taken before any work; replays of a
	// completed request return the captured response byte for byte.
	idemKey := r.Header.Get("Idempotency-Key")
	claimed := false
	if idemKey != "" {
		state, stored, err := h.idem.Check(r.Context(), idemKey)
		if err != nil {
			RespondError(w, r, domain.ErrInternal("idempotency check", err))
			return
		}
		switch state {
		case guard.ClaimCompleted:
			w.WriteHeader(stored.Status)
			w.Write(stored.Body)
			return
		case guard.ClaimProcessing:
			RespondError(w, r, domain.ErrIdempotencyConflict())
			return
		case guard.ClaimAcquired:
			claimed = true
		}
	}

	var in service.CreateBetInput
	if err := DecodeJSON(r, &in); err != nil {
		if claimed {
			h.idem.Release(r.Context(), idemKey)
		}
		RespondError(w, r, domain.ErrValidation("invalid request body"))
		return
	}
	in.TableID = tableID
	in.UserID = userID

	result, err := h.proposals.CreateBet(r.Context(), in)
	if err != nil {
		// Failed requests release the claim so a retry runs fresh.
		if claimed {
			h.idem.Release(r.Context(), idemKey)
		}
		RespondError(w, r, err)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		if claimed {
			h.idem.Release(r.Context(), idemKey)
		}
		RespondError(w, r, domain.ErrInternal("encode response", err))
		return
	}
	if claimed {
		if err := h.idem.Complete(r.Context(), idemKey, http.StatusCreated, body); err != nil {
			h.logger.Warn("idempotency store failed", "key", idemKey, "error", err)
		}
	}
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

// PokeBet re-proposes a settled bet under the caller's name.
func (h *Handler) PokeBet(w http.ResponseWriter, r *http.Request) {
	betID, err := betID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())

	if !h.allowWrite(w, r, guard.KindBets, userID.String()) {
		return
	}

	result, err := h.proposals.PokeBet(r.Context(), userID, betID)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, result)
}

// ValidateBet settles a bet manually with a winning choice.
func (h *Handler) ValidateBet(w http.ResponseWriter, r *http.Request) {
	betID, err := betID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	var in service.ValidateBetInput
	if err := DecodeJSON(r, &in); err != nil {
		RespondError(w, r, domain.ErrValidation("invalid request body"))
		return
	}

	if err := h.proposals.ValidateBet(r.Context(), betID, auth.UserIDFromContext(r.Context()), in); err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]string{"status": "resolution enqueued"})
}

// AcceptBet records the caller's participation.
func (h *Handler) AcceptBet(w http.ResponseWriter, r *http.Request) {
	betID, err := betID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	var in service.AcceptBetInput
	if err := DecodeJSON(r, &in); err != nil {
		RespondError(w, r, domain.ErrValidation("invalid request body"))
		return
	}

	p, err := h.proposals.AcceptBet(r.Context(), betID, auth.UserIDFromContext(r.Context()), in)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, p)
}

// UpdateGuess changes the caller's guess while the bet is active.
func (h *Handler) UpdateGuess(w http.ResponseWriter, r *http.Request) {
	betID, err := betID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	var in service.AcceptBetInput
	if err := DecodeJSON(r, &in); err != nil {
		RespondError(w, r, domain.ErrValidation("invalid request body"))
		return
	}

	p, err := h.proposals.UpdateGuess(r.Context(), betID, auth.UserIDFromContext(r.Context()), in)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, p)
}

// LiveInfo returns the current projection, or the persisted snapshot for a
// settled bet.
func (h *Handler) LiveInfo(w http.ResponseWriter, r *http.Request) {
	betID, err := betID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	info, err := h.proposals.LiveInfo(r.Context(), betID)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, info)
}

// allowWrite applies the sliding-window quota and sets the rate-limit
// headers. Returns false after writing the 429.
func (h *Handler) allowWrite(w http.ResponseWriter, r *http.Request, kind, subject string) bool {
	res := h.limiter.Check(r.Context(), kind, subject)
	if res.Remaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		RespondError(w, r, domain.ErrRateLimited("too many requests, slow down"))
		return false
	}
	return true
}

func betID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "betID"))
	if err != nil {
		return uuid.Nil, domain.ErrValidation("invalid bet id", domain.FieldError{Field: "betID", Message: "must be a UUID"})
	}
	return id, nil
}
