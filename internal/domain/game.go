package domain

// Game status values carried by the refined game document.
const (
	GameStatusScheduled  = "STATUS_SCHEDULED"
	GameStatusInProgress = "STATUS_IN_PROGRESS"
	GameStatusHalftime   = "STATUS_HALFTIME"
	GameStatusFinal      = "STATUS_FINAL"
)

// Scoreboard game states as reported by the provider.
const (
	GameStateIn   = "in"
	GameStatePre  = "pre"
	GameStatePost = "post"
)

// PlayerLine is one player's stat line within a category.
type PlayerLine struct {
	ID    string             `json:"id"`
	Name  string             `json:"name"`
	Stats map[string]float64 `json:"stats"`
}

// RefinedTeam is a normalised team entry in a refined game document.
type RefinedTeam struct {
	ID         string                  `json:"id"`
	Abbr       string                  `json:"abbr"`
	Name       string                  `json:"name"`
	Score      int                     `json:"score"`
	Home       bool                    `json:"home"`
	Possession bool                    `json:"possession"`
	Stats      map[string]float64      `json:"stats,omitempty"`
	Players    map[string][]PlayerLine `json:"players,omitempty"` // keyed by stat category
}

// DriveResult is the last completed drive outcome for football games.
type DriveResult struct {
	TeamID   string `json:"team_id"`
	PlayType string `json:"play_type"`
	Sequence int    `json:"sequence"`
}

// RefinedGameDoc is the normalised per-game document the ingest worker
// produces and every mode resolver reads. It is only ever published by
// atomic rename, so readers always observe a complete document.
type RefinedGameDoc struct {
	GameID    string        `json:"gameId"`
	League    string        `json:"league"`
	Name      string        `json:"name,omitempty"`
	Status    string        `json:"status"`
	Period    int           `json:"period,omitempty"`
	Clock     string        `json:"clock,omitempty"`
	Teams     []RefinedTeam `json:"teams"`
	LastDrive *DriveResult  `json:"lastDrive,omitempty"`
	UpdatedAt int64         `json:"updatedAt"`
}

// Team returns the team with the given ID, or nil.
func (d *RefinedGameDoc) Team(teamID string) *RefinedTeam {
	for i := range d.Teams {
		if d.Teams[i].ID == teamID {
			return &d.Teams[i]
		}
	}
	return nil
}

// HomeTeam returns the home-flagged team, or nil.
func (d *RefinedGameDoc) HomeTeam() *RefinedTeam {
	for i := range d.Teams {
		if d.Teams[i].Home {
			return &d.Teams[i]
		}
	}
	return nil
}

// AwayTeam returns the away team, or nil.
func (d *RefinedGameDoc) AwayTeam() *RefinedTeam {
	for i := range d.Teams {
		if !d.Teams[i].Home {
			return &d.Teams[i]
		}
	}
	return nil
}

// PossessionTeamID returns the ID of the team holding possession, or "".
func (d *RefinedGameDoc) PossessionTeamID() string {
	for i := range d.Teams {
		if d.Teams[i].Possession {
			return d.Teams[i].ID
		}
	}
	return ""
}

// PlayerStat looks a player's stat up across both teams. The second return
// is false when the player or key is absent from the document.
func (d *RefinedGameDoc) PlayerStat(playerID, category, key string) (float64, bool) {
	for i := range d.Teams {
		for _, line := range d.Teams[i].Players[category] {
			if line.ID == playerID {
				v, ok := line.Stats[key]
				return v, ok
			}
		}
	}
	return 0, false
}
