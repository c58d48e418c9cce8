package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tablestakes/platform/internal/domain"
)

// bootstrapGame is the trimmed game entry for the proposer UI.
type bootstrapGame struct {
	GameID string `json:"game_id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status"`
	Period int    `json:"period,omitempty"`
	Clock  string `json:"clock,omitempty"`
}

// Bootstrap returns everything the proposer wizard needs for one league:
// current games, the mode catalog and the general-config ranges.
func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	league := chi.URLParam(r, "league")
	if league == "" {
		RespondError(w, r, domain.ErrValidation("league is required"))
		return
	}

	docs, err := h.games.ListGames(league)
	if err != nil {
		RespondError(w, r, domain.ErrInternal("list games", err))
		return
	}
	games := make([]bootstrapGame, 0, len(docs))
	for _, doc := range docs {
		games = append(games, bootstrapGame{
			GameID: doc.GameID,
			Name:   doc.Name,
			Status: doc.Status,
			Period: doc.Period,
			Clock:  doc.Clock,
		})
	}

	catalog := h.registry.Catalog(league)

	RespondJSON(w, http.StatusOK, map[string]any{
		"league": league,
		"games":  games,
		"modes":  catalog,
		"general_config": map[string]any{
			"wager_amount": map[string]any{
				"min": domain.MinWager,
				"max": domain.MaxWager,
			},
			"time_limit_seconds": map[string]any{
				"min": domain.MinTimeLimitSeconds,
				"max": domain.MaxTimeLimitSeconds,
			},
		},
	})
}
