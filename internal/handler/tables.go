package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tablestakes/platform/internal/auth"
	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/repository"
)

// ListTickets returns the caller's participations joined with their bets,
// newest first, cursor-paginated on (participated_at, participation_id).
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	limit := queryLimit(r)

	var cursor *repository.TicketCursor
	beforeAt := r.URL.Query().Get("beforeParticipatedAt")
	beforeID := r.URL.Query().Get("beforeParticipationId")
	if beforeAt != "" && beforeID != "" {
		at, err := time.Parse(time.RFC3339Nano, beforeAt)
		if err != nil {
			RespondError(w, r, domain.ErrValidation("invalid cursor", domain.FieldError{Field: "beforeParticipatedAt", Message: "must be RFC3339"}))
			return
		}
		id, err := uuid.Parse(beforeID)
		if err != nil {
			RespondError(w, r, domain.ErrValidation("invalid cursor", domain.FieldError{Field: "beforeParticipationId", Message: "must be a UUID"}))
			return
		}
		cursor = &repository.TicketCursor{BeforeParticipatedAt: at, BeforeParticipationID: id}
	}

	tickets, err := h.participations.ListTickets(r.Context(), h.db, userID, cursor, limit)
	if err != nil {
		RespondError(w, r, domain.ErrInternal("list tickets", err))
		return
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

// ListTables returns the caller's tables by recency, cursor-paginated on
// (last_activity_at, table_id).
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	limit := queryLimit(r)

	var cursor *repository.TableCursor
	beforeAt := r.URL.Query().Get("beforeActivityAt")
	beforeID := r.URL.Query().Get("beforeTableId")
	if beforeAt != "" && beforeID != "" {
		at, err := time.Parse(time.RFC3339Nano, beforeAt)
		if err != nil {
			RespondError(w, r, domain.ErrValidation("invalid cursor", domain.FieldError{Field: "beforeActivityAt", Message: "must be RFC3339"}))
			return
		}
		id, err := uuid.Parse(beforeID)
		if err != nil {
			RespondError(w, r, domain.ErrValidation("invalid cursor", domain.FieldError{Field: "beforeTableId", Message: "must be a UUID"}))
			return
		}
		cursor = &repository.TableCursor{BeforeActivityAt: at, BeforeTableID: id}
	}

	tables, err := h.tables.ListForUser(r.Context(), h.db, userID, cursor, limit)
	if err != nil {
		RespondError(w, r, domain.ErrInternal("list tables", err))
		return
	}
	if tables == nil {
		tables = []domain.Table{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}
