package livedata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tablestakes/platform/internal/domain"
)

// Refiner turns a raw provider document into the normalised refined game doc.
type Refiner interface {
	League() string
	Refine(raw json.RawMessage) (*domain.RefinedGameDoc, error)
}

// rawSummary is the subset of the ESPN game summary the NFL refiner reads.
type rawSummary struct {
	Header struct {
		ID           string `json:"id"`
		Competitions []struct {
			Status struct {
				Type struct {
					Name string `json:"name"`
				} `json:"type"`
				Period       int    `json:"period"`
				DisplayClock string `json:"displayClock"`
			} `json:"status"`
			Competitors []struct {
				HomeAway   string `json:"homeAway"`
				Score      string `json:"score"`
				Possession bool   `json:"possession"`
				Team       struct {
					ID           string `json:"id"`
					Abbreviation string `json:"abbreviation"`
					DisplayName  string `json:"displayName"`
				} `json:"team"`
			} `json:"competitors"`
		} `json:"competitions"`
	} `json:"header"`
	Boxscore struct {
		Teams []struct {
			Team struct {
				ID string `json:"id"`
			} `json:"team"`
			Statistics []struct {
				Name         string `json:"name"`
				DisplayValue string `json:"displayValue"`
			} `json:"statistics"`
		} `json:"teams"`
		Players []struct {
			Team struct {
				ID string `json:"id"`
			} `json:"team"`
			Statistics []struct {
				Name     string   `json:"name"`
				Keys     []string `json:"keys"`
				Athletes []struct {
					Athlete struct {
						ID          string `json:"id"`
						DisplayName string `json:"displayName"`
					} `json:"athlete"`
					Stats []string `json:"stats"`
				} `json:"athletes"`
			} `json:"statistics"`
		} `json:"players"`
	} `json:"boxscore"`
	Drives struct {
		Previous []struct {
			Team struct {
				ID string `json:"id"`
			} `json:"team"`
			Result string `json:"result"`
		} `json:"previous"`
	} `json:"drives"`
}

// NFLRefiner normalises ESPN NFL summaries.
type NFLRefiner struct{}

func NewNFLRefiner() *NFLRefiner { return &NFLRefiner{} }

func (r *NFLRefiner) League() string { return "nfl" }

// Refine produces the normalised document for one game. Team and player
// stats are keyed exactly as the provider keys them (e.g. receivingYards)
// so mode configs can reference provider stat keys verbatim.
func (r *NFLRefiner) Refine(raw json.RawMessage) (*domain.RefinedGameDoc, error) {
	var s rawSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode raw summary: %w", err)
	}
	if s.Header.ID == "" || len(s.Header.Competitions) == 0 {
		return nil, fmt.Errorf("raw summary missing header")
	}

	comp := s.Header.Competitions[0]
	doc := &domain.RefinedGameDoc{
		GameID:    s.Header.ID,
		League:    "nfl",
		Status:    comp.Status.Type.Name,
		Period:    comp.Status.Period,
		Clock:     comp.Status.DisplayClock,
		UpdatedAt: time.Now().UnixMilli(),
	}

	for _, c := range comp.Competitors {
		score, _ := strconv.Atoi(c.Score)
		doc.Teams = append(doc.Teams, domain.RefinedTeam{
			ID:         c.Team.ID,
			Abbr:       c.Team.Abbreviation,
			Name:       c.Team.DisplayName,
			Score:      score,
			Home:       c.HomeAway == "home",
			Possession: c.Possession,
			Stats:      map[string]float64{},
			Players:    map[string][]domain.PlayerLine{},
		})
	}

	for _, bt := range s.Boxscore.Teams {
		team := doc.Team(bt.Team.ID)
		if team == nil {
			continue
		}
		for _, st := range bt.Statistics {
			if v, err := strconv.ParseFloat(st.DisplayValue, 64); err == nil {
				team.Stats[st.Name] = v
			}
		}
	}

	for _, pt := range s.Boxscore.Players {
		team := doc.Team(pt.Team.ID)
		if team == nil {
			continue
		}
		for _, cat := range pt.Statistics {
			lines := make([]domain.PlayerLine, 0, len(cat.Athletes))
			for _, a := range cat.Athletes {
				line := domain.PlayerLine{
					ID:    a.Athlete.ID,
					Name:  a.Athlete.DisplayName,
					Stats: map[string]float64{},
				}
				for i, key := range cat.Keys {
					if i >= len(a.Stats) {
						break
					}
					if v, err := strconv.ParseFloat(a.Stats[i], 64); err == nil {
						line.Stats[key] = v
					}
				}
				lines = append(lines, line)
			}
			team.Players[cat.Name] = lines
		}
	}

	if n := len(s.Drives.Previous); n > 0 {
		last := s.Drives.Previous[n-1]
		doc.LastDrive = &domain.DriveResult{
			TeamID:   last.Team.ID,
			PlayType: last.Result,
			Sequence: n,
		}
	}

	return doc, nil
}
