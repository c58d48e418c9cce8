package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/service"
)

// CreateSession opens a proposer wizard session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var in service.CreateSessionInput
	if err := DecodeJSON(r, &in); err != nil {
		RespondError(w, r, domain.ErrValidation("invalid request body"))
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), in)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, session)
}

// GetSession returns the current wizard state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	session, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, session)
}

// ApplyChoice records one step selection.
func (h *Handler) ApplyChoice(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	var in service.ApplyChoiceInput
	if err := DecodeJSON(r, &in); err != nil {
		RespondError(w, r, domain.ErrValidation("invalid request body"))
		return
	}

	session, err := h.sessions.ApplyChoice(r.Context(), id, in)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, session)
}

// SetGeneral stores the wager and time limit.
func (h *Handler) SetGeneral(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	var in service.SetGeneralInput
	if err := DecodeJSON(r, &in); err != nil {
		RespondError(w, r, domain.ErrValidation("invalid request body"))
		return
	}

	session, err := h.sessions.SetGeneral(r.Context(), id, in)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, session)
}

// OverrideStage moves the wizard to an explicit stage for non-linear edits.
func (h *Handler) OverrideStage(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	var in struct {
		Stage domain.SessionStatus `json:"stage"`
	}
	if err := DecodeJSON(r, &in); err != nil {
		RespondError(w, r, domain.ErrValidation("invalid request body"))
		return
	}

	session, err := h.sessions.OverrideStage(r.Context(), id, in.Stage)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, session)
}

func sessionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		return uuid.Nil, domain.ErrValidation("invalid session id", domain.FieldError{Field: "sessionID", Message: "must be a UUID"})
	}
	return id, nil
}
