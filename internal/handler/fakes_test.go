package handler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablestakes/platform/internal/domain"
	"github.com/tablestakes/platform/internal/modes"
	"github.com/tablestakes/platform/internal/repository"
)

// memModule is a minimal always-valid mode for routing tests.
type memModule struct{}

func (m *memModule) Key() string                { return "mem_mode" }
func (m *memModule) Label() string              { return "Mem Mode" }
func (m *memModule) Overview() string           { return "test mode" }
func (m *memModule) SupportedLeagues() []string { return []string{"nfl"} }

func (m *memModule) ComputeOptions(cfg domain.ModeConfig) []string {
	return []string{"Yes", "No", domain.NoEntry}
}

func (m *memModule) ComputeWinningCondition(cfg domain.ModeConfig) string {
	return "the coin lands"
}

func (m *memModule) BuildUserConfig(ctx context.Context, in modes.BuildInput) ([]domain.WizardStep, error) {
	return []domain.WizardStep{
		{
			Key: "pick", Label: "Pick", Input: domain.StepInputChoice,
			Choices: []domain.StepChoice{
				{ID: "heads", Label: "Heads"},
				{ID: "tails", Label: "Tails"},
			},
		},
	}, nil
}

func (m *memModule) ConfigFromSteps(steps []domain.WizardStep) domain.ModeConfig {
	cfg := domain.ModeConfig{}
	for i := range steps {
		if steps[i].SelectedChoiceID != nil {
			cfg[steps[i].Key] = *steps[i].SelectedChoiceID
		}
	}
	return cfg
}

func (m *memModule) ValidateProposal(ctx context.Context, in modes.ValidateInput) modes.ValidationResult {
	return modes.ValidationResult{Valid: true}
}

func (m *memModule) PrepareConfig(ctx context.Context, in modes.PrepareInput) (domain.ModeConfig, error) {
	return in.Config, nil
}

func (m *memModule) GetLiveInfo(ctx context.Context, in modes.LiveInfoInput) (*domain.LiveInfo, error) {
	return &domain.LiveInfo{}, nil
}

func (m *memModule) Validator() modes.Validator { return nil }

// memGames serves a fixed slice of refined docs.
type memGames struct {
	docs []*domain.RefinedGameDoc
}

func (g *memGames) Game(league, gameID string) (*domain.RefinedGameDoc, error) {
	for _, d := range g.docs {
		if d.GameID == gameID {
			return d, nil
		}
	}
	return nil, nil
}

func (g *memGames) ListGames(league string) ([]*domain.RefinedGameDoc, error) {
	return g.docs, nil
}

// memBets is a map-backed BetRepository.
type memBets struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.BetProposal
}

func (b *memBets) Insert(ctx context.Context, db repository.DBTX, bet *domain.BetProposal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := *bet
	b.rows[bet.ID] = &copied
	return nil
}

func (b *memBets) Delete(ctx context.Context, db repository.DBTX, betID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rows, betID)
	return nil
}

func (b *memBets) FindByID(ctx context.Context, db repository.DBTX, betID uuid.UUID) (*domain.BetProposal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bet, ok := b.rows[betID]; ok {
		copied := *bet
		return &copied, nil
	}
	return nil, nil
}

func (b *memBets) PromoteExpired(ctx context.Context, db repository.DBTX, now time.Time) ([]uuid.UUID, error) {
	return nil, nil
}

func (b *memBets) SetWinningChoice(ctx context.Context, db repository.DBTX, betID uuid.UUID, choice string, at time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bet, ok := b.rows[betID]
	if !ok || bet.Status.Terminal() {
		return false, nil
	}
	bet.Status = domain.BetStatusResolved
	bet.WinningChoice = &choice
	bet.ResolutionTime = &at
	return true, nil
}

func (b *memBets) Wash(ctx context.Context, db repository.DBTX, betID uuid.UUID, at time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bet, ok := b.rows[betID]
	if !ok || bet.Status.Terminal() {
		return false, nil
	}
	bet.Status = domain.BetStatusWashed
	bet.ResolutionTime = &at
	return true, nil
}

func (b *memBets) ListUnsettledByMode(ctx context.Context, db repository.DBTX, modeKey string) ([]domain.BetProposal, error) {
	return nil, nil
}

func (b *memBets) CountUnsettled(ctx context.Context, db repository.DBTX) (int64, error) {
	return 0, nil
}

// memParticipations is a slice-backed ParticipationRepository.
type memParticipations struct {
	mu   sync.Mutex
	rows []domain.BetParticipation
}

func (p *memParticipations) Insert(ctx context.Context, db repository.DBTX, row *domain.BetParticipation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = append(p.rows, *row)
	return nil
}

func (p *memParticipations) FindByBetAndUser(ctx context.Context, db repository.DBTX, betID, userID uuid.UUID) (*domain.BetParticipation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.rows {
		if p.rows[i].BetID == betID && p.rows[i].UserID == userID {
			copied := p.rows[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (p *memParticipations) UpdateGuess(ctx context.Context, db repository.DBTX, participationID uuid.UUID, guess string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.rows {
		if p.rows[i].ID == participationID {
			p.rows[i].UserGuess = guess
			return true, nil
		}
	}
	return false, nil
}

func (p *memParticipations) ListTickets(ctx context.Context, db repository.DBTX, userID uuid.UUID, cursor *repository.TicketCursor, limit int) ([]domain.Ticket, error) {
	return nil, nil
}

// memTables tracks membership keyed by "<tableID>|<userID>".
type memTables struct {
	mu      sync.Mutex
	members map[string]bool
}

func (t *memTables) FindByID(ctx context.Context, db repository.DBTX, tableID uuid.UUID) (*domain.Table, error) {
	return &domain.Table{ID: tableID}, nil
}

func (t *memTables) IsMember(ctx context.Context, db repository.DBTX, tableID, userID uuid.UUID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.members[tableID.String()+"|"+userID.String()], nil
}

func (t *memTables) InsertFeedItem(ctx context.Context, db repository.DBTX, item *domain.FeedItem) error {
	return nil
}

func (t *memTables) TouchActivity(ctx context.Context, db repository.DBTX, tableID uuid.UUID, at time.Time) error {
	return nil
}

func (t *memTables) ListForUser(ctx context.Context, db repository.DBTX, userID uuid.UUID, cursor *repository.TableCursor, limit int) ([]domain.Table, error) {
	return nil, nil
}

// memHistory is an append-only slice of events.
type memHistory struct {
	mu     sync.Mutex
	events []domain.ResolutionHistoryEvent
	nextID int64
}

func (h *memHistory) Append(ctx context.Context, db repository.DBTX, betID uuid.UUID, eventType string, payload json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.events = append(h.events, domain.ResolutionHistoryEvent{
		ID: h.nextID, BetID: betID, EventType: eventType, Payload: payload, CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (h *memHistory) LatestByType(ctx context.Context, db repository.DBTX, betID uuid.UUID, eventType string) (*domain.ResolutionHistoryEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].BetID == betID && h.events[i].EventType == eventType {
			ev := h.events[i]
			return &ev, nil
		}
	}
	return nil, nil
}
